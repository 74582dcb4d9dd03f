package grblcore

// MotionMode identifies the modal motion group (G0/G1/G2/G3/G4 — spec.md §3).
type MotionMode int

const (
	MotionNone MotionMode = iota
	MotionRapid
	MotionLinear
	MotionArcCW
	MotionArcCCW
	MotionDwell
)

// DistanceMode is G90 (absolute) or G91 (incremental).
type DistanceMode int

const (
	DistanceAbsolute DistanceMode = iota
	DistanceIncremental
)

// UnitMode is G20 (inch) or G21 (mm).
type UnitMode int

const (
	UnitMM UnitMode = iota
	UnitInch
)

const mmPerInch = 25.4

// Plane selects the arc-interpolation plane. Only XY (G17) is first-class;
// G18/G19 are accepted by the tokeniser, and arcs in those planes are
// rejected at the motion-resolve step with ErrCodeUnsupportedArc (spec.md
// §9). Linear and rapid moves are unaffected by the plane.
type Plane int

const (
	PlaneXY Plane = iota
	PlaneXZ
	PlaneYZ
)

// FeedMode is G93 (inverse time) or G94 (units per minute).
type FeedMode int

const (
	FeedUnitsPerMinute FeedMode = iota
	FeedInverseTime
)

// SpindleState tracks M3/M4/M5. Actuation is a pass-through; only the modal
// value is tracked (spec.md §1).
type SpindleState int

const (
	SpindleOff SpindleState = iota
	SpindleCW
	SpindleCCW
)

// CoolantState tracks M7/M8/M9 as independent flood/mist flags.
type CoolantState struct {
	Flood bool
	Mist  bool
}

// MachineState is the coarse run state reported on `?` (spec.md §4.I).
type MachineState int

const (
	StateIdle MachineState = iota
	StateRun
	StateHold
	StateAlarm
	StateHome
)

func (s MachineState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRun:
		return "Run"
	case StateHold:
		return "Hold"
	case StateAlarm:
		return "Alarm"
	case StateHome:
		return "Home"
	default:
		return "Idle"
	}
}

// ModalState is the persistent context carried across lines (spec.md §3).
// Only the main-loop parser writes it; the controller reads it for `?`
// status reports and `$G`.
type ModalState struct {
	Motion       MotionMode
	Distance     DistanceMode
	Units        UnitMode
	Plane        Plane
	FeedRateMode FeedMode
	ActiveWCS    int // 0-5 for G54..G59
	LastFeed     float64
	LastSpindle  float64
	Spindle      SpindleState
	Coolant      CoolantState
	Tool         int
}

// DefaultModalState is what soft reset restores (spec.md §3: absolute, mm,
// G54, feed 0, spindle off, coolant off).
func DefaultModalState() ModalState {
	return ModalState{
		Motion:       MotionNone,
		Distance:     DistanceAbsolute,
		Units:        UnitMM,
		Plane:        PlaneXY,
		FeedRateMode: FeedUnitsPerMinute,
		ActiveWCS:    0,
		LastFeed:     0,
		LastSpindle:  0,
		Spindle:      SpindleOff,
		Coolant:      CoolantState{},
		Tool:         0,
	}
}

// MotionIntent is a fully resolved, per-command value the parser emits for
// the planner/arc generator to act on (spec.md §3).
type MotionIntent struct {
	TargetMM   AxisVector  // absolute target in the machine frame, mm
	Specified  [NumAxes]bool // true if this axis word appeared in the command
	FeedRate   float64     // mm/min
	Mode       MotionMode
	CenterI    float64 // arc centre offset, X, relative to start
	CenterJ    float64 // arc centre offset, Y, relative to start
	DwellSec   float64
}
