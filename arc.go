package grblcore

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r2"
)

// arcHighWater/arcLowWater are the two-block hysteresis watermarks gating
// arc emission against the planner ring (spec.md §4.H).
const (
	arcHighWater = 8
	arcLowWater  = 6
)

// ArcGenerator is an independent producer that feeds a G2/G3 command into
// the planner as many short linear segments over time, rather than
// blocking submit_line with the whole arc at once (spec.md §4.H). Only one
// arc is ever active; the parser enforces exclusion with line commands at
// its boundary.
type ArcGenerator struct {
	mu sync.Mutex

	planner  *Planner
	settings *Settings
	logger   Logger

	active atomic.Bool

	// canContinue is the single back-pressure flag: false pauses emission,
	// true allows it. Forced true unconditionally on completion (spec.md
	// §4.H "Critical invariant").
	canContinue atomic.Bool

	center AxisVector // XY centre, absolute machine mm; other axes fixed
	radius float64
	sweep  float64 // signed: positive CCW, negative CW
	n      int
	index  int

	// offset is the last committed offset-from-centre vector. Each tick
	// advances it by the fixed per-segment rotation matrix {rot2x2};
	// math.Sin/math.Cos run once per arc in Start, never per segment.
	offset AxisVector2
	rot2x2 [2][2]float64

	feedRate       float64
	rapid          bool
	zStart, aStart float64
	zEnd, aEnd     float64
}

// AxisVector2 is a thin r2.Point alias kept local to this file so the
// rotation-matrix math reads as plain field access.
type AxisVector2 = r2.Point

// NewArcGenerator builds a generator bound to the shared planner and
// settings.
func NewArcGenerator(planner *Planner, settings *Settings, logger Logger) *ArcGenerator {
	if logger == nil {
		logger = NopLogger{}
	}
	g := &ArcGenerator{planner: planner, settings: settings, logger: logger}
	g.canContinue.Store(true)
	return g
}

// Active reports whether an arc is currently being emitted; the parser
// uses this to reject new motion commands while true (spec.md §4.H
// "Exclusion").
func (g *ArcGenerator) Active() bool {
	return g.active.Load()
}

// CanContinue reports the back-pressure flag's current value (spec.md §8:
// "true whenever an arc is inactive" is an explicit invariant).
func (g *ArcGenerator) CanContinue() bool {
	if !g.active.Load() {
		return true
	}
	return g.canContinue.Load()
}

// Start constructs the arc's geometry from the current position, centre
// offset, endpoint, and winding direction, and begins emission (spec.md
// §4.H "Geometry"). ccw selects counter-clockwise (G3) vs clockwise (G2).
func (g *ArcGenerator) Start(start, end AxisVector, centerI, centerJ float64, feedRate float64, ccw bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cx := start[AxisX] + centerI
	cy := start[AxisY] + centerJ
	rStart := math.Hypot(start[AxisX]-cx, start[AxisY]-cy)
	rEnd := math.Hypot(end[AxisX]-cx, end[AxisY]-cy)
	if math.Abs(rStart-rEnd) > 0.02 {
		return newProtoErr(ErrCodeArcGeometry, "endpoint radius does not match start radius")
	}

	a0 := math.Atan2(start[AxisY]-cy, start[AxisX]-cx)
	a1 := math.Atan2(end[AxisY]-cy, end[AxisX]-cx)

	var sweep float64
	if ccw {
		sweep = a1 - a0
		for sweep <= 0 {
			sweep += 2 * math.Pi
		}
	} else {
		sweep = a1 - a0
		for sweep >= 0 {
			sweep -= 2 * math.Pi
		}
	}
	if start == end {
		return newProtoErr(ErrCodeUnsupportedArc, "full-circle arcs are not supported")
	}

	tol := g.settings.ArcToleranceMM
	if tol <= 0 {
		tol = 0.002
	}
	// Chord-deviation bound: segment angle theta satisfies
	// r*(1-cos(theta/2)) <= tol  =>  theta <= 2*acos(1 - tol/r).
	var segAngle float64
	if rStart > tol {
		segAngle = 2 * math.Acos(1-tol/rStart)
	} else {
		segAngle = math.Pi / 8
	}
	if segAngle <= 0 || math.IsNaN(segAngle) {
		segAngle = math.Pi / 8
	}
	n := int(math.Ceil(math.Abs(sweep) / segAngle))
	if n < 1 {
		n = 1
	}

	g.center = AxisVector{cx, cy, 0, 0}
	g.radius = rStart
	g.sweep = sweep
	g.n = n
	g.index = 0
	g.feedRate = feedRate
	g.rapid = false
	g.zStart, g.aStart = start[AxisZ], start[AxisA]
	g.zEnd, g.aEnd = end[AxisZ], end[AxisA]

	// The per-segment rotation matrix and the starting offset vector are
	// both evaluated once, here, with math.Sin/math.Cos. Every later tick
	// advances g.offset by this fixed matrix instead of re-evaluating a
	// transcendental function from an absolute angle.
	step := sweep / float64(n)
	g.rot2x2 = [2][2]float64{
		{math.Cos(step), -math.Sin(step)},
		{math.Sin(step), math.Cos(step)},
	}
	g.offset = AxisVector2{X: rStart * math.Cos(a0), Y: rStart * math.Sin(a0)}

	g.active.Store(true)
	g.canContinue.Store(g.planner.Occupancy() < arcHighWater)
	return nil
}

// Tick emits at most one arc segment per call, matching the ~25 Hz
// emission loop in spec.md §4.H. It returns true while the arc is still
// active (whether or not it made progress this tick).
func (g *ArcGenerator) Tick() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.active.Load() {
		return false
	}
	if !g.canContinue.Load() {
		return true
	}

	if g.index >= g.n {
		g.finish()
		return false
	}

	// Candidate offset for the next segment: g.offset (the last committed
	// point) rotated by the fixed per-segment matrix. Neither g.offset nor
	// g.index is updated until the planner actually accepts this segment,
	// so a buffer-full retry recomputes the identical candidate rather than
	// drifting or re-evaluating a transcendental function.
	next := AxisVector2{
		X: g.rot2x2[0][0]*g.offset.X + g.rot2x2[0][1]*g.offset.Y,
		Y: g.rot2x2[1][0]*g.offset.X + g.rot2x2[1][1]*g.offset.Y,
	}
	x := g.center[AxisX] + next.X
	y := g.center[AxisY] + next.Y

	frac := float64(g.index+1) / float64(g.n)
	z := g.zStart + (g.zEnd-g.zStart)*frac
	aAxis := g.aStart + (g.aEnd-g.aStart)*frac

	target := AxisVector{x, y, z, aAxis}

	result, err := g.planner.SubmitLine(target, g.feedRate, g.rapid)
	if err != nil {
		g.logger.Errorf("arc segment rejected: %v", err)
		g.finish()
		return false
	}
	switch result {
	case SubmitBufferFull:
		return true
	case SubmitAccepted, SubmitEmptyBlock:
		g.offset = next
		g.index++
	}

	if g.planner.Occupancy() >= arcHighWater {
		g.canContinue.Store(false)
	}

	if g.index >= g.n {
		g.finish()
		return false
	}
	return true
}

// finish tears the generator down and unconditionally forces the
// back-pressure flag true, even if the ring is still above the high-water
// mark — otherwise the last buffered segments never drain, since no one
// else signals the flag once the generator is gone (spec.md §4.H "Critical
// invariant").
func (g *ArcGenerator) finish() {
	g.active.Store(false)
	g.canContinue.Store(true)
}

// NotifyDrained is called by the main loop whenever it observes the
// planner ring has drained below the low-water mark, releasing the
// back-pressure flag (spec.md §4.H).
func (g *ArcGenerator) NotifyDrained() {
	if g.planner.Occupancy() < arcLowWater {
		g.canContinue.Store(true)
	}
}

// Abort forcibly tears down the generator, used by soft reset mid-arc
// (spec.md §8, boundary scenario "Soft reset issued mid-arc").
func (g *ArcGenerator) Abort() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finish()
}
