package grblcore

import (
	"sync"

	"github.com/golang/geo/r3"
)

// MachinePosition is the ISR-updated, per-axis step counter: the
// authoritative hardware position (spec.md §3). Only the step executor
// writes to it; every other reader goes through GetSteps/GetMM, which take
// the lock rather than risk a torn read of the four 32-bit counters.
type MachinePosition struct {
	mu    sync.Mutex
	steps [NumAxes]int32
}

// Add advances the step counter for axis by delta. Called only from the
// step executor's per-axis pulse handler.
func (m *MachinePosition) Add(axis Axis, delta int32) {
	m.mu.Lock()
	m.steps[axis] += delta
	m.mu.Unlock()
}

// GetSteps returns a snapshot of all four step counters.
func (m *MachinePosition) GetSteps() [NumAxes]int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps
}

// Set forcibly overwrites the step counters, used only during a
// synchronisation crossing (soft reset, homing).
func (m *MachinePosition) Set(steps [NumAxes]int32) {
	m.mu.Lock()
	m.steps = steps
	m.mu.Unlock()
}

// GetMM converts the current step counters to machine-frame millimetres
// using settings.
func (m *MachinePosition) GetMM(settings *Settings) AxisVector {
	steps := m.GetSteps()
	var mm AxisVector
	for a := Axis(0); a < NumAxes; a++ {
		mm[a] = settings.StepsToMM(a, steps[a])
	}
	return mm
}

// CoordinateOffsets tracks the six work coordinate systems (G54-G59), the
// two predefined positions (G28/G30), and the non-persistent G92 offset
// (spec.md §3). Observable work position is machine position minus the
// active WCS offset minus the G92 offset.
type CoordinateOffsets struct {
	mu sync.Mutex

	wcs       [6]AxisVector
	predef28  AxisVector
	predef30  AxisVector
	g92       AxisVector
	activeWCS int // 0-5, selecting G54..G59
}

// NewCoordinateOffsets builds offsets seeded from persisted settings (WCS
// and predefined positions survive soft reset; only G92 does not).
func NewCoordinateOffsets(s *Settings) *CoordinateOffsets {
	c := &CoordinateOffsets{}
	for i := 0; i < 6; i++ {
		for a := Axis(0); a < NumAxes; a++ {
			c.wcs[i][a] = float64(s.WCS[i][a])
		}
	}
	for a := Axis(0); a < NumAxes; a++ {
		c.predef28[a] = float64(s.Predef28[a])
		c.predef30[a] = float64(s.Predef30[a])
	}
	return c
}

// SelectWCS sets the active work coordinate system, 0-5 for G54-G59.
func (c *CoordinateOffsets) SelectWCS(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= 0 && index < 6 {
		c.activeWCS = index
	}
}

// ActiveWCS returns the currently selected WCS index, 0-5.
func (c *CoordinateOffsets) ActiveWCS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeWCS
}

// SetWCSOffset overwrites one of the six persistent work offsets (G10 L2).
func (c *CoordinateOffsets) SetWCSOffset(index int, mm AxisVector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= 0 && index < 6 {
		c.wcs[index] = mm
	}
}

// WCSOffset returns the offset for WCS index, 0-5.
func (c *CoordinateOffsets) WCSOffset(index int) AxisVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= 6 {
		return AxisVector{}
	}
	return c.wcs[index]
}

// ClearG92 resets the temporary offset to zero (G92.1).
func (c *CoordinateOffsets) ClearG92() {
	c.mu.Lock()
	c.g92 = AxisVector{}
	c.mu.Unlock()
}

// G92 returns the current temporary offset.
func (c *CoordinateOffsets) G92() AxisVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.g92
}

// ApplyG92 computes and stores a G92 offset such that, given the current
// machine position machineMM, the resulting work position equals
// targetWorkMM.
//
// work = machine - wcs - g92  =>  g92 = machine - wcs - target
func (c *CoordinateOffsets) ApplyG92(machineMM, targetWorkMM AxisVector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wcs := c.wcs[c.activeWCS]
	for a := Axis(0); a < NumAxes; a++ {
		c.g92[a] = machineMM[a] - wcs[a] - targetWorkMM[a]
	}
}

// WorkMM converts a machine-frame position to the currently active work
// frame.
func (c *CoordinateOffsets) WorkMM(machineMM AxisVector) AxisVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	wcs := c.wcs[c.activeWCS]
	var work AxisVector
	for a := Axis(0); a < NumAxes; a++ {
		work[a] = machineMM[a] - wcs[a] - c.g92[a]
	}
	return work
}

// MachineFromWork converts a work-frame target back to the machine frame,
// the inverse of WorkMM, used by the parser to resolve a command's target
// into the machine-frame mm the planner expects (spec.md §4.D step 4).
func (c *CoordinateOffsets) MachineFromWork(workMM AxisVector) AxisVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	wcs := c.wcs[c.activeWCS]
	var machine AxisVector
	for a := Axis(0); a < NumAxes; a++ {
		machine[a] = workMM[a] + wcs[a] + c.g92[a]
	}
	return machine
}

// Predefined28/Predefined30 return the stored predefined positions
// (G28/G30), in the machine frame.
func (c *CoordinateOffsets) Predefined28() AxisVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.predef28
}

func (c *CoordinateOffsets) Predefined30() AxisVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.predef30
}

// StorePredefined28/30 record the current machine position as the
// predefined location (G28.1/G30.1).
func (c *CoordinateOffsets) StorePredefined28(machineMM AxisVector) {
	c.mu.Lock()
	c.predef28 = machineMM
	c.mu.Unlock()
}

func (c *CoordinateOffsets) StorePredefined30(machineMM AxisVector) {
	c.mu.Lock()
	c.predef30 = machineMM
	c.mu.Unlock()
}

// PlannerPosition is the planner-level exact-mm authoritative planning
// position, updated only when a block is accepted (spec.md §3, §9). It is
// single-writer (the planner goroutine) and is never read from or written
// by the step ISR.
type PlannerPosition struct {
	mu sync.Mutex
	mm AxisVector
}

// Get returns a snapshot of the exact-mm position.
func (p *PlannerPosition) Get() AxisVector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mm
}

// Set overwrites the exact-mm position after a block is accepted, or during
// SynchronisePlannerPosition.
func (p *PlannerPosition) Set(mm AxisVector) {
	p.mu.Lock()
	p.mm = mm
	p.mu.Unlock()
}

// Vector3 projects the XYZ subset of an AxisVector into an r3.Vector. The
// planner's junction-deviation geometry uses it for the XYZ terms and adds
// the rotary A term separately; the arc generator does not use it.
func (v AxisVector) Vector3() r3.Vector {
	return r3.Vector{X: v[AxisX], Y: v[AxisY], Z: v[AxisZ]}
}

// WithVector3 returns a copy of v with its XYZ subset replaced from vec,
// leaving the A component untouched.
func (v AxisVector) WithVector3(vec r3.Vector) AxisVector {
	r := v
	r[AxisX], r[AxisY], r[AxisZ] = vec.X, vec.Y, vec.Z
	return r
}

// SynchronisePlannerPosition forces the planner-exact-mm state to match
// machine position, called on soft reset, after homing, and whenever an
// operation discontinuously changes position (spec.md §4.B). logger records
// the delta being erased at debug level: this is a deliberate discontinuity
// and historically a source of silent drift if it fires unexpectedly.
func (p *PlannerPosition) SynchronisePlannerPosition(machineMM AxisVector, logger Logger) {
	p.mu.Lock()
	delta := machineMM.Sub(p.mm)
	p.mm = machineMM
	p.mu.Unlock()
	logger.Debugf("planner position synchronised, delta=%v", delta)
}
