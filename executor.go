package grblcore

import (
	"sync"
	"sync/atomic"
)

// axisRole is what an axis is doing for the segment currently loaded
// (spec.md §4.G).
type axisRole int

const (
	roleSubordinate axisRole = iota
	roleDominant
)

// PulseChannel is the abstract per-axis hardware primitive the executor
// drives: a continuous-pulse generator, a one-shot pulse, a direction
// line, and a step-completion interrupt (spec.md §4.G). Real platforms
// implement it over GPIO/timer peripherals; see hal/ for a Linux
// gpiocdev-backed implementation and a simulated one for tests.
type PulseChannel interface {
	ArmContinuous(periodTicks uint32)
	ArmOneShot()
	Disable()
	SetDirection(negative bool)
	// SetPulseHandler registers the callback invoked on the falling edge
	// of each pulse this channel generates, continuous or one-shot.
	SetPulseHandler(func())
}

// axisExec is the per-axis execution state plus its four-state role
// machine (spec.md §4.G).
type axisExec struct {
	channel    PulseChannel
	wasDominant bool
	bresenham  int64
	stepsInSeg uint32
	doneInSeg  uint32
}

// StepExecutor drives the four axis pulse channels from the segment ring,
// implementing the dominant/subordinate role machine and feed hold/soft
// reset handling (spec.md §4.G). Every method that mutates shared state
// with the segment generator goes through loadMu, mirroring the source
// firmware's "disable step interrupts during segment load" critical
// section (spec.md §5).
type StepExecutor struct {
	loadMu sync.Mutex

	segments *SegmentRing
	position *MachinePosition
	logger   Logger

	axes [NumAxes]axisExec

	current       *Segment
	dominantMask  uint8 // bit per axis, which one is "currently dominant" for this load
	active        int32 // atomic: 1 while any axis is running

	holdRequested atomic.Bool
}

// NewStepExecutor wires an executor to its segment source and the shared
// machine-position step counters, with one PulseChannel per axis supplied
// by the caller (hal package).
func NewStepExecutor(segments *SegmentRing, position *MachinePosition, channels [NumAxes]PulseChannel, logger Logger) *StepExecutor {
	if logger == nil {
		logger = NopLogger{}
	}
	e := &StepExecutor{segments: segments, position: position, logger: logger}
	for a := Axis(0); a < NumAxes; a++ {
		e.axes[a].channel = channels[a]
		axis := a
		channels[a].SetPulseHandler(func() { e.onAxisPulse(axis) })
	}
	return e
}

// onAxisPulse is the shared falling-edge callback wired into every axis's
// channel at construction; it routes to the dominant-axis handler or the
// subordinate one-shot-complete handler depending on this segment's
// current role assignment.
func (e *StepExecutor) onAxisPulse(a Axis) {
	e.loadMu.Lock()
	isDominant := e.current != nil && e.current.Dominant == a
	e.loadMu.Unlock()
	if isDominant {
		e.OnDominantPulse()
	} else {
		e.OnSubordinatePulseComplete(a)
	}
}

// StartSegmentExecution begins driving the segment ring if nothing is
// currently active. It is a no-op (re-entrancy guarded) if any axis is
// still running (spec.md §4.G).
func (e *StepExecutor) StartSegmentExecution() {
	if !atomic.CompareAndSwapInt32(&e.active, 0, 1) {
		return
	}
	e.loadMu.Lock()
	ok := e.loadNextSegmentLocked()
	e.loadMu.Unlock()
	if !ok {
		atomic.StoreInt32(&e.active, 0)
	}
}

// transition runs one axis's four-state machine for the newly loaded
// segment (spec.md §4.G). Direction-pin writes happen only on the
// subordinate->dominant Entry transition; PulseChannel has no separate
// driver-enable line, so no transition writes one.
func (e *StepExecutor) transition(a Axis, isDominant bool) {
	ax := &e.axes[a]
	switch {
	case !ax.wasDominant && isDominant:
		// Entry: set direction, arm continuous pulses.
		ax.channel.SetDirection(e.current.DirNegative[a])
		ax.channel.ArmContinuous(e.current.TimerPeriod)
	case ax.wasDominant && isDominant:
		// Continuous: no direction write; the channel is re-armed at this
		// segment's period, and the per-pulse interrupt drives steps
		// (OnDominantPulse).
		ax.channel.ArmContinuous(e.current.TimerPeriod)
	case ax.wasDominant && !isDominant:
		// Exit.
		ax.channel.Disable()
	default:
		// Subordinate->subordinate: stays disabled until a Bresenham
		// overflow arms a one-shot (OnDominantPulse).
	}
	ax.wasDominant = isDominant
}

// OnDominantPulse is called by the hardware abstraction on the falling
// edge of the dominant axis's pulse. It advances machine position,
// distributes Bresenham-triggered one-shots to subordinates, and handles
// the segment boundary.
func (e *StepExecutor) OnDominantPulse() {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.current == nil {
		return
	}
	dom := e.current.Dominant
	domExec := &e.axes[dom]
	domExec.doneInSeg++
	dir := int32(1)
	if e.current.DirNegative[dom] {
		dir = -1
	}
	e.position.Add(dom, dir)

	for a := Axis(0); a < NumAxes; a++ {
		if a == dom {
			continue
		}
		ax := &e.axes[a]
		if ax.stepsInSeg == 0 {
			continue
		}
		ax.bresenham += int64(ax.stepsInSeg)
		if ax.bresenham >= int64(domExec.stepsInSeg) {
			ax.bresenham -= int64(domExec.stepsInSeg)
			ax.doneInSeg++
			ax.channel.ArmOneShot()
			subDir := int32(1)
			if e.current.DirNegative[a] {
				subDir = -1
			}
			e.position.Add(a, subDir)
		}
	}

	if domExec.doneInSeg >= domExec.stepsInSeg {
		e.segments.Pop()
		for a := Axis(0); a < NumAxes; a++ {
			e.axes[a].bresenham = 0
		}
		e.current = nil
		if !e.loadNextSegmentLocked() {
			for a := Axis(0); a < NumAxes; a++ {
				e.axes[a].channel.Disable()
				e.axes[a].wasDominant = false
			}
			atomic.StoreInt32(&e.active, 0)
		}
	}
}

// loadNextSegmentLocked is loadNextSegment's body for callers that already
// hold loadMu.
func (e *StepExecutor) loadNextSegmentLocked() bool {
	seg := e.segments.Peek()
	if seg == nil {
		return false
	}
	e.current = seg
	e.dominantMask = 0
	for a := Axis(0); a < NumAxes; a++ {
		ax := &e.axes[a]
		isDominant := a == seg.Dominant
		if isDominant {
			e.dominantMask |= 1 << uint(a)
		}
		ax.stepsInSeg = seg.AxisSteps[a]
		ax.doneInSeg = 0
		e.transition(a, isDominant)
	}
	return true
}

// OnSubordinatePulseComplete is called when a subordinate's one-shot has
// fired; it disables that axis's channel until the next Bresenham trigger.
func (e *StepExecutor) OnSubordinatePulseComplete(a Axis) {
	e.axes[a].channel.Disable()
}

// FeedHold requests a deceleration to zero through the segment generator's
// own acceleration-bounded profile, not by jerking the hardware (spec.md
// §4.G, §5).
func (e *StepExecutor) FeedHold() {
	e.holdRequested.Store(true)
}

// Resume clears a feed hold, letting velocity ramp back up.
func (e *StepExecutor) Resume() {
	e.holdRequested.Store(false)
}

// HoldRequested reports whether a feed hold is in effect, read by the
// segment generator to clamp its target speed toward zero.
func (e *StepExecutor) HoldRequested() bool {
	return e.holdRequested.Load()
}

// SoftReset disables all pulse channels and discards in-flight segment
// state. Machine step counters (MachinePosition) are deliberately left
// untouched — position survives a soft reset (spec.md §4.G, §7).
func (e *StepExecutor) SoftReset() {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	for a := Axis(0); a < NumAxes; a++ {
		e.axes[a].channel.Disable()
		e.axes[a].wasDominant = false
		e.axes[a].bresenham = 0
		e.axes[a].stepsInSeg = 0
		e.axes[a].doneInSeg = 0
	}
	e.current = nil
	atomic.StoreInt32(&e.active, 0)
	e.holdRequested.Store(false)
}

// Active reports whether any axis is currently running.
func (e *StepExecutor) Active() bool {
	return atomic.LoadInt32(&e.active) == 1
}
