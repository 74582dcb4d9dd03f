package grblcore

import (
	"math"
	"sync"
)

const segmentRingSize = 16

// segmentTargetMMDefault is overridden at runtime by Settings.SegmentTargetMM
// (spec.md §9: the ~2 mm figure is a tunable, not a constant).
const segmentTargetMMDefault = 2.0

// minTimerPeriod/maxTimerPeriod bound the 16-bit timer reload value
// (spec.md §3, "Segment").
const (
	minTimerPeriod = 2
	maxTimerPeriod = 65535
)

// Segment is one short constant-rate chunk of a Block, the unit the step
// executor actually drives (spec.md §3).
type Segment struct {
	Steps       uint32
	TimerPeriod uint32 // timer ticks per step, clamped to [minTimerPeriod, maxTimerPeriod]
	DirNegative [NumAxes]bool
	Dominant    Axis
	AxisSteps   [NumAxes]uint32 // per-axis step counts within this segment
	Block       *Block
}

// SegmentRing is the fixed-capacity FIFO between the segment generator and
// the step executor (spec.md §3, §5: disjoint-field ownership — the
// generator pushes, the executor pops).
type SegmentRing struct {
	mu     sync.Mutex
	buf    [segmentRingSize]Segment
	head   int
	tail   int
	count  int
}

func (r *SegmentRing) push(s Segment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count >= segmentRingSize {
		return false
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % segmentRingSize
	r.count++
	return true
}

// Peek returns the segment at the tail without removing it, or nil if
// empty.
func (r *SegmentRing) Peek() *Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return nil
	}
	return &r.buf[r.tail]
}

// Pop removes the tail segment once the step executor has finished it.
func (r *SegmentRing) Pop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return
	}
	r.tail = (r.tail + 1) % segmentRingSize
	r.count--
}

func (r *SegmentRing) full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count >= segmentRingSize
}

// SegmentGenerator decomposes the planner's tail block into short
// constant-rate segments realising a trapezoidal speed profile (spec.md
// §4.F). It runs on a periodic tick, mirroring the source firmware's
// segment-prep interrupt; here it is driven by the controller's ticker
// goroutine instead.
type SegmentGenerator struct {
	planner       *Planner
	segments      *SegmentRing
	settings      *Settings
	holdRequested func() bool

	haveBlock    bool
	mmRemaining  float64
	currentSpeed float64 // mm/min
	fracRemain   [NumAxes]float64
	emitted      [NumAxes]uint32 // running per-axis total emitted so far in this block
}

// NewSegmentGenerator wires a generator to its planner, output ring, and
// settings. holdRequested is polled once per segment to clamp the
// trapezoid toward zero during a feed hold (spec.md §4.G, §5); it may be
// nil, in which case feed hold is never applied.
func NewSegmentGenerator(planner *Planner, segments *SegmentRing, settings *Settings, holdRequested func() bool) *SegmentGenerator {
	return &SegmentGenerator{planner: planner, segments: segments, settings: settings, holdRequested: holdRequested}
}

// Tick runs one invocation: while there is room in the segment ring and the
// current block still has distance remaining, it emits segments.
func (g *SegmentGenerator) Tick() {
	for !g.segments.full() {
		if !g.haveBlock {
			if !g.loadBlock() {
				return
			}
		}
		if !g.emitOne() {
			return
		}
	}
}

func (g *SegmentGenerator) loadBlock() bool {
	b := g.planner.CurrentBlock()
	if b == nil {
		return false
	}
	g.haveBlock = true
	g.mmRemaining = b.LengthMM
	g.currentSpeed = math.Sqrt(b.EntrySpeedSq)
	g.fracRemain = [NumAxes]float64{}
	g.emitted = [NumAxes]uint32{}
	return true
}

// emitOne produces exactly one segment from the in-progress block, or
// releases the tail if the block is exhausted; both return true so Tick
// moves on. It returns false when there is no block to draw from.
func (g *SegmentGenerator) emitOne() bool {
	b := g.planner.CurrentBlock()
	if b == nil {
		g.haveBlock = false
		return false
	}

	if g.mmRemaining <= 0 {
		g.planner.ReleaseTail()
		g.haveBlock = false
		return true
	}

	target := g.settings.SegmentTargetMM
	if target <= 0 {
		target = segmentTargetMMDefault
	}
	segLen := target
	if segLen > g.mmRemaining {
		segLen = g.mmRemaining
	}

	holding := g.holdRequested != nil && g.holdRequested()

	exitSpeedSq := g.planner.ExitSpeedSqFor()
	nominal := math.Sqrt(b.NominalSpeedSq)
	exitSpeed := math.Sqrt(exitSpeedSq)

	var endSpeed float64
	if holding {
		// Feed hold overrides the block's own planned exit speed: decelerate
		// toward zero at this block's acceleration limit regardless of how
		// far from the block's end we are (spec.md §4.G, §5).
		endSpeed = trapezoidEndSpeed(g.currentSpeed, nominal, 0, segLen, segLen, b.AccelMMS2)
	} else {
		endSpeed = trapezoidEndSpeed(g.currentSpeed, nominal, exitSpeed, segLen, g.mmRemaining, b.AccelMMS2)
	}
	meanSpeed := (g.currentSpeed + endSpeed) / 2
	if meanSpeed <= 0 && !holding {
		meanSpeed = exitSpeed
	}
	if meanSpeed <= 0 {
		meanSpeed = 1e-6
	}

	stepsPerSec := meanSpeed / 60.0 * float64(b.StepEventCount) / b.LengthMM
	period := uint32(1.0 / stepsPerSec * segmentTimerHz)
	if period < minTimerPeriod {
		period = minTimerPeriod
	}
	if period > maxTimerPeriod {
		period = maxTimerPeriod
	}

	isFinal := segLen >= g.mmRemaining
	frac := segLen / b.LengthMM
	var axisSteps [NumAxes]uint32
	for a := Axis(0); a < NumAxes; a++ {
		if isFinal {
			// Whatever is left of the block's commanded total, exactly —
			// this is what guarantees no step is gained or lost to
			// fractional-remainder rounding across a block's segments
			// (spec.md §8).
			axisSteps[a] = b.StepDelta[a] - g.emitted[a]
			continue
		}
		want := float64(b.StepDelta[a])*frac + g.fracRemain[a]
		n := math.Floor(want)
		g.fracRemain[a] = want - n
		axisSteps[a] = uint32(n)
	}
	for a := Axis(0); a < NumAxes; a++ {
		g.emitted[a] += axisSteps[a]
	}

	seg := Segment{
		Steps:       axisSteps[b.DominantAxis],
		TimerPeriod: period,
		DirNegative: b.DirNegative,
		Dominant:    b.DominantAxis,
		AxisSteps:   axisSteps,
		Block:       b,
	}

	if !g.segments.push(seg) {
		return false
	}

	g.mmRemaining -= segLen
	g.currentSpeed = endSpeed
	if g.mmRemaining < 1e-9 {
		g.mmRemaining = 0
	}
	return true
}

// trapezoidEndSpeed computes the speed at the end of a segment of length
// segLen mm, given the current speed, the block's nominal (cruise) speed,
// its target exit speed, the total remaining distance in the block, and
// its acceleration limit (spec.md §4.F step 2).
func trapezoidEndSpeed(current, nominal, exit, segLen, mmRemaining, accelMMS2 float64) float64 {
	accelPerMin2 := accelMMS2 * 3600.0 // mm/s^2 -> mm/min^2
	decelDist := (current*current - exit*exit) / (2 * accelPerMin2)
	if decelDist < 0 {
		decelDist = 0
	}

	if mmRemaining-segLen <= decelDist {
		// In the deceleration region for the rest of the block.
		v := math.Sqrt(math.Max(0, current*current-2*accelPerMin2*segLen))
		if v < exit {
			v = exit
		}
		return v
	}

	if current < nominal {
		v := math.Sqrt(current*current + 2*accelPerMin2*segLen)
		if v > nominal {
			v = nominal
		}
		return v
	}

	return current
}

// segmentTimerHz is the abstract hardware timer tick rate used to compute
// TimerPeriod from a steps/second rate. Real platforms substitute their own
// tick rate; this value matches a typical 16-bit timer prescaled for a
// microsecond-resolution step ISR.
const segmentTimerHz = 1_000_000.0
