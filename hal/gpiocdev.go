package hal

import (
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOChannel drives one axis's step/direction pair over a Linux gpiochip
// via warthog618/go-gpiocdev, standing in for the source firmware's
// per-axis compare/timer peripheral pair (spec.md §4.G: "an implementer on
// another platform can use any equivalent primitive").
type GPIOChannel struct {
	mu    sync.Mutex
	step  *gpiocdev.Line
	dir   *gpiocdev.Line

	pulseWidth time.Duration
	ticker     *time.Ticker
	stop       chan struct{}

	onPulse func()
}

var _ Channel = (*GPIOChannel)(nil)

// SetPulseHandler registers the callback invoked after every pulse's
// falling edge, continuous or one-shot.
func (g *GPIOChannel) SetPulseHandler(f func()) {
	g.mu.Lock()
	g.onPulse = f
	g.mu.Unlock()
}

// NewGPIOChannel requests the step and direction lines as outputs on
// chipName (e.g. "gpiochip0"). pulseWidth must honour the stepper driver
// family's minimum STEP high time (spec.md §9) — callers derive it from
// Settings.StepPulseMicros, not a hardcoded constant.
func NewGPIOChannel(chipName string, stepOffset, dirOffset int, pulseWidth time.Duration) (*GPIOChannel, error) {
	step, err := gpiocdev.RequestLine(chipName, stepOffset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	dir, err := gpiocdev.RequestLine(chipName, dirOffset, gpiocdev.AsOutput(0))
	if err != nil {
		step.Close()
		return nil, err
	}
	return &GPIOChannel{step: step, dir: dir, pulseWidth: pulseWidth}, nil
}

// ArmContinuous starts a goroutine toggling the step line high for
// pulseWidth then low, once per periodTicks microseconds (one tick of the
// core's 1 MHz segment timer), invoking the pulse handler after each
// falling edge.
func (g *GPIOChannel) ArmContinuous(periodTicks uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()

	period := time.Duration(periodTicks) * time.Microsecond
	if period < g.pulseWidth {
		period = g.pulseWidth
	}
	ticker := time.NewTicker(period)
	stop := make(chan struct{})
	g.ticker = ticker
	g.stop = stop

	go func() {
		for {
			select {
			case <-ticker.C:
				g.pulse()
			case <-stop:
				return
			}
		}
	}()
}

// ArmOneShot fires a single pulse and then calls the pulse handler.
func (g *GPIOChannel) ArmOneShot() {
	go g.pulse()
}

func (g *GPIOChannel) pulse() {
	g.step.SetValue(1)
	time.Sleep(g.pulseWidth)
	g.step.SetValue(0)
	g.mu.Lock()
	f := g.onPulse
	g.mu.Unlock()
	if f != nil {
		f()
	}
}

// Disable stops any running continuous pulse train and leaves the step
// line low.
func (g *GPIOChannel) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	g.step.SetValue(0)
}

func (g *GPIOChannel) stopLocked() {
	if g.ticker != nil {
		g.ticker.Stop()
		close(g.stop)
		g.ticker = nil
		g.stop = nil
	}
}

// SetDirection toggles the direction line.
func (g *GPIOChannel) SetDirection(negative bool) {
	v := 0
	if negative {
		v = 1
	}
	g.dir.SetValue(v)
}

// Close releases both gpiochip line handles.
func (g *GPIOChannel) Close() error {
	g.Disable()
	if err := g.step.Close(); err != nil {
		return err
	}
	return g.dir.Close()
}
