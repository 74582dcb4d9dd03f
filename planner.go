package grblcore

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"
)

const ringSize = 16

// cosEpsilon is the tolerance around ±1 for treating a junction as exactly
// colinear or an exact reversal (spec.md §4.E step 7).
const cosEpsilon = 1e-6

// minJunctionSpeedMM is the floor on any junction velocity, including an
// exact reversal, mm/min.
const minJunctionSpeedMM = 0.0

// SubmitResult is the three-valued outcome of Planner.SubmitLine. A bare
// boolean cannot distinguish "try again" from "nothing to do", which is
// exactly the distinction that historically deadlocked a host retrying a
// zero-length move forever (spec.md §9).
type SubmitResult int

const (
	SubmitAccepted SubmitResult = iota
	SubmitBufferFull
	SubmitEmptyBlock
)

// Block is one entry in the look-ahead ring (spec.md §3).
type Block struct {
	StepDelta      [NumAxes]uint32
	DirNegative    [NumAxes]bool
	LengthMM       float64
	DominantAxis   Axis
	StepEventCount uint32
	AccelMMS2      float64
	NominalSpeedSq float64 // (mm/min)^2
	EntrySpeedSq   float64 // (mm/min)^2, mutable by the replanner
	MaxEntrySpeedSq float64
	UnitVec        AxisVector
	NominalLength  bool
	Recalculate    bool
	Rapid          bool
}

// Planner is the 16-slot look-ahead ring buffer. Main-loop line submission
// and the arc generator both call SubmitLine through this same mutex; the
// segment generator calls CurrentBlock/ReleaseTail. A single mutex replaces
// the source firmware's single-writer-per-field discipline, since Go gives
// us no cheaper way to make "submit" and "release tail" cross-safe without
// risking a torn read of the ring indices (SPEC_FULL.md §9).
type Planner struct {
	mu sync.Mutex

	blocks [ringSize]Block
	head   int // next slot to write
	tail   int // oldest occupied slot
	count  int

	optimalPlanOffset int // offset from tail below which entry speeds are pinned
	tailLocked        bool

	settings *Settings
	pos      *PlannerPosition
	logger   Logger

	havePrevUnit bool
	prevUnit     AxisVector
}

// NewPlanner builds an empty ring bound to settings and the shared planner
// position.
func NewPlanner(settings *Settings, pos *PlannerPosition, logger Logger) *Planner {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Planner{settings: settings, pos: pos, logger: logger}
}

// Occupancy returns the number of blocks currently in the ring, used by the
// arc generator's back-pressure watermarks.
func (p *Planner) Occupancy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *Planner) idx(offset int) int {
	return (p.tail + offset) % ringSize
}

// SubmitLine attempts to enqueue one straight-line motion from the current
// planner position to targetMM at feedRate (spec.md §4.E). It is the single
// entry point used by both the parser and the arc generator.
func (p *Planner) SubmitLine(targetMM AxisVector, feedRate float64, rapid bool) (SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.pos.Get()
	deltaMM := targetMM.Sub(current)

	var stepDelta [NumAxes]uint32
	var dirNeg [NumAxes]bool
	anyStep := false
	for a := Axis(0); a < NumAxes; a++ {
		steps := p.settings.MMToSteps(a, deltaMM[a])
		if steps < 0 {
			dirNeg[a] = true
			stepDelta[a] = uint32(-steps)
		} else {
			stepDelta[a] = uint32(steps)
		}
		if stepDelta[a] != 0 {
			anyStep = true
		}
	}

	if !anyStep {
		return SubmitEmptyBlock, nil
	}

	if p.count >= ringSize {
		return SubmitBufferFull, nil
	}

	// The XYZ sub-vector's length goes through r3.Vector.Norm(); the rotary
	// A axis is folded in afterward since norm(x,y,z,a) == hypot(norm(x,y,z), a).
	length := math.Hypot(deltaMM.Vector3().Norm(), deltaMM[AxisA])
	if length == 0 {
		// Steps rounded to nonzero while mm delta rounded to zero: treat
		// as empty rather than divide by zero below.
		return SubmitEmptyBlock, nil
	}

	var dominant Axis
	var maxSteps uint32
	for a := Axis(0); a < NumAxes; a++ {
		if stepDelta[a] > maxSteps {
			maxSteps = stepDelta[a]
			dominant = a
		}
	}

	accel := math.Inf(1)
	rateLimit := math.Inf(1)
	for a := Axis(0); a < NumAxes; a++ {
		if deltaMM[a] == 0 {
			continue
		}
		frac := length / math.Abs(deltaMM[a])
		if v := p.settings.MaxAccelMMS2(a) * frac; v < accel {
			accel = v
		}
		if v := p.settings.MaxRateMM(a) * frac; v < rateLimit {
			rateLimit = v
		}
	}

	nominalSpeed := feedRate
	if rapid {
		nominalSpeed = rateLimit
	} else if nominalSpeed > rateLimit {
		nominalSpeed = rateLimit
	}
	if nominalSpeed < 0 {
		nominalSpeed = 0
	}
	nominalSpeedSq := nominalSpeed * nominalSpeed

	var unit AxisVector
	for a := Axis(0); a < NumAxes; a++ {
		unit[a] = deltaMM[a] / length
	}

	maxEntrySpeedSq := nominalSpeedSq
	if p.havePrevUnit {
		// cosTheta is -dot(prevUnit, unit): the XYZ term goes through
		// r3.Vector.Dot, with the rotary A axis folded in as the
		// remaining scalar term of the same dot product.
		cosTheta := -p.prevUnit.Vector3().Dot(unit.Vector3()) - p.prevUnit[AxisA]*unit[AxisA]
		switch {
		case cosTheta < -1+cosEpsilon:
			// Colinear continuation (a straight line gives cosTheta = -1):
			// junction is effectively unconstrained by cornering, leave at
			// nominal (bounded by whichever block is tighter, handled by
			// the replanner chain).
		case cosTheta > 1-cosEpsilon:
			// Exact reversal.
			maxEntrySpeedSq = minJunctionSpeedMM * minJunctionSpeedMM
		default:
			if cosTheta > 1 {
				cosTheta = 1
			}
			if cosTheta < -1 {
				cosTheta = -1
			}
			sinHalf := math.Sqrt(math.Max(0, (1-cosTheta)/2))
			if sinHalf >= 1-cosEpsilon {
				// Effectively colinear: leave at nominal.
				maxEntrySpeedSq = nominalSpeedSq
			} else {
				delta := p.settings.JunctionDeviationMM
				vJunctionSq := accel * delta * sinHalf / (1 - sinHalf)
				if vJunctionSq < minJunctionSpeedMM*minJunctionSpeedMM {
					vJunctionSq = minJunctionSpeedMM * minJunctionSpeedMM
				}
				if vJunctionSq > nominalSpeedSq {
					vJunctionSq = nominalSpeedSq
				}
				maxEntrySpeedSq = vJunctionSq
			}
		}
	}

	entrySpeedSq := maxEntrySpeedSq
	if stop := 2 * accel * length; stop < entrySpeedSq {
		entrySpeedSq = stop
	}

	b := Block{
		StepDelta:       stepDelta,
		DirNegative:     dirNeg,
		LengthMM:        length,
		DominantAxis:    dominant,
		StepEventCount:  maxSteps,
		AccelMMS2:       accel,
		NominalSpeedSq:  nominalSpeedSq,
		EntrySpeedSq:    entrySpeedSq,
		MaxEntrySpeedSq: maxEntrySpeedSq,
		UnitVec:         unit,
		Recalculate:     true,
		Rapid:           rapid,
	}

	p.pos.Set(targetMM)
	p.blocks[p.head] = b
	p.head = (p.head + 1) % ringSize
	p.count++
	p.havePrevUnit = true
	p.prevUnit = unit

	p.replan()

	return SubmitAccepted, nil
}

// replan runs the reverse and forward passes over every block still
// eligible for recalculation (spec.md §4.E). It never touches the tail
// block once the segment generator has started draining it (tailLocked),
// since the segment generator reads that block's entry speed as it goes.
func (p *Planner) replan() {
	n := p.count
	if n == 0 {
		return
	}

	lower := p.optimalPlanOffset
	if lower < 0 {
		lower = 0
	}
	if lower >= n {
		lower = n - 1
	}

	nextEntrySq := 0.0
	haveNext := false
	for i := n - 1; i >= lower; i-- {
		b := &p.blocks[p.idx(i)]
		locked := p.tailLocked && i == 0
		if !locked {
			if i == n-1 {
				b.EntrySpeedSq = math.Min(b.MaxEntrySpeedSq, 2*b.AccelMMS2*b.LengthMM)
			} else {
				b.EntrySpeedSq = math.Min(b.MaxEntrySpeedSq, nextEntrySq+2*b.AccelMMS2*b.LengthMM)
			}
			if b.EntrySpeedSq < b.MaxEntrySpeedSq {
				b.Recalculate = true
			} else {
				b.Recalculate = false
			}
		}
		if !b.Recalculate && haveNext {
			p.optimalPlanOffset = i
			break
		}
		nextEntrySq = b.EntrySpeedSq
		haveNext = true
	}
	if lower == 0 {
		p.optimalPlanOffset = 0
	}

	var prevEntrySq, prevAccel, prevLength float64
	havePrev := false
	for i := 0; i < n; i++ {
		b := &p.blocks[p.idx(i)]
		if havePrev {
			limit := prevEntrySq + 2*prevAccel*prevLength
			if b.EntrySpeedSq > limit {
				b.EntrySpeedSq = limit
			}
		}
		prevEntrySq, prevAccel, prevLength = b.EntrySpeedSq, b.AccelMMS2, b.LengthMM
		havePrev = true
	}
}

// CurrentBlock returns a pointer to the tail block (the one the segment
// generator is draining), or nil if the ring is empty. The first call
// after a ReleaseTail marks the tail locked against further replanning.
func (p *Planner) CurrentBlock() *Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		return nil
	}
	p.tailLocked = true
	return &p.blocks[p.tail]
}

// ExitSpeedSqFor returns the entry speed (squared) of the block that
// follows the tail block, or zero if the tail is the only block in the
// ring (spec.md §4.F: this, not the tail's own entry speed, is what keeps
// motion continuous through a corner).
func (p *Planner) ExitSpeedSqFor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count < 2 {
		return 0
	}
	return p.blocks[p.idx(1)].EntrySpeedSq
}

// ReleaseTail frees the tail slot once the segment generator has consumed
// all of its motion (spec.md §4.E).
func (p *Planner) ReleaseTail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		return
	}
	p.tail = (p.tail + 1) % ringSize
	p.count--
	p.tailLocked = false
	if p.optimalPlanOffset > 0 {
		p.optimalPlanOffset--
	}
}

// Clear empties the ring without touching planner position, used by soft
// reset (position resync happens separately via SynchronisePlannerPosition).
func (p *Planner) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.head, p.tail, p.count = 0, 0, 0
	p.tailLocked = false
	p.optimalPlanOffset = 0
	p.havePrevUnit = false
}

// SetPositionMM forcibly overwrites the planner's exact-mm position, used
// after soft reset and homing (spec.md §4.E).
func (p *Planner) SetPositionMM(mm AxisVector) {
	p.pos.Set(mm)
}
