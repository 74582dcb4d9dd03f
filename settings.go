package grblcore

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Default pulse width honours the DRV8825 family's documented minimum STEP
// high time rather than any one source firmware's empirical constant (see
// SPEC_FULL.md Design Notes).
const defaultStepPulseMicros = 10.0

const numStartupLines = 4

// AxisSettings are the per-axis kinematic limits loaded from the settings
// store.
type AxisSettings struct {
	StepsPerMM    float64 `yaml:"steps_per_mm"`
	MaxRateMMMin  float64 `yaml:"max_rate_mm_per_min"`
	MaxAccelMMS2  float64 `yaml:"max_accel_mm_per_sec2"`
	MaxTravelMM   float64 `yaml:"max_travel_mm"`
}

// Settings is the flat, atomically-rewritten record backing §4.A. A single
// instance is shared by every consumer; writes are funnelled through
// Settings.Apply so they can be rejected while motion is in flight.
type Settings struct {
	mu sync.RWMutex

	Axis [NumAxes]AxisSettings `yaml:"axis"`

	JunctionDeviationMM float64 `yaml:"junction_deviation_mm"`
	ArcToleranceMM       float64 `yaml:"arc_tolerance_mm"`
	ReportInches         bool    `yaml:"report_inches"`
	HomingEnabled        bool    `yaml:"homing_enabled"`

	// Tunables the source hardware chose empirically; here they are
	// settings, not constants (SPEC_FULL.md §9).
	SegmentTargetMM float64 `yaml:"segment_target_mm"`
	ArcTickHz       float64 `yaml:"arc_tick_hz"`
	StepPulseMicros float64 `yaml:"step_pulse_micros"`

	WCS      [6]AxisVectorF32 `yaml:"wcs"`
	Predef28 AxisVectorF32    `yaml:"predef_g28"`
	Predef30 AxisVectorF32    `yaml:"predef_g30"`

	StartupLines [numStartupLines]string `yaml:"startup_lines"`
}

// AxisVectorF32 is the on-disk, single-precision analogue of AxisVector used
// for persisted offsets (spec.md §3: planner-exact-mm positions are single
// precision).
type AxisVectorF32 [NumAxes]float32

// DefaultSettings returns the compiled-in safe defaults used when no
// settings file is present or it fails to load.
func DefaultSettings() *Settings {
	s := &Settings{
		JunctionDeviationMM: 0.02,
		ArcToleranceMM:      0.002,
		SegmentTargetMM:     2.0,
		ArcTickHz:           25.0,
		StepPulseMicros:     defaultStepPulseMicros,
	}
	for i := range s.Axis {
		s.Axis[i] = AxisSettings{
			StepsPerMM:   80.0,
			MaxRateMMMin: 5000.0,
			MaxAccelMMS2: 200.0,
			MaxTravelMM:  200.0,
		}
	}
	for i := range s.WCS {
		s.WCS[i] = AxisVectorF32{}
	}
	return s
}

// LoadSettings reads a YAML settings file from path. On any error it logs a
// warning through logger and returns compiled-in defaults, matching the
// "Runtime anomaly" posture of §7: a bad settings file is a diagnostic
// condition, not a reason to refuse to boot.
func LoadSettings(path string, logger Logger) *Settings {
	defaults := DefaultSettings()
	if path == "" {
		return defaults
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnf("settings: could not read %s, using defaults: %v", path, err)
		return defaults
	}

	loaded := DefaultSettings()
	if err := yaml.Unmarshal(data, loaded); err != nil {
		logger.Warnf("settings: could not parse %s, using defaults: %v", path, err)
		return defaults
	}

	return loaded
}

// Save atomically rewrites the settings file at path: write to a temp file
// in the same directory, then rename, so a crash mid-write never leaves a
// half-written settings file behind.
func (s *Settings) Save(path string) error {
	s.mu.RLock()
	data, err := yaml.Marshal(s)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp settings file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp settings file: %w", err)
	}
	return nil
}

// MotionInFlight reports whether any block or segment is currently in the
// ring, used to forbid settings writes while motion is running.
type MotionInFlight func() bool

// ErrMotionInFlight is returned by Apply when a write is attempted while
// MotionInFlight reports true.
var ErrMotionInFlight = fmt.Errorf("settings: cannot change settings while motion is in flight")

// Apply validates and rewrites the setting identified by numeric id, e.g.
// from `$110=500` (axis X max rate). It is the single funnel for all
// settings writes (SPEC_FULL.md §9, "Configuration as data, not globals").
func (s *Settings) Apply(id int, value float64, inFlight MotionInFlight) error {
	if inFlight != nil && inFlight() {
		return ErrMotionInFlight
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case id >= 100 && id < 100+int(NumAxes):
		s.Axis[id-100].StepsPerMM = value
	case id >= 110 && id < 110+int(NumAxes):
		s.Axis[id-110].MaxRateMMMin = value
	case id >= 120 && id < 120+int(NumAxes):
		s.Axis[id-120].MaxAccelMMS2 = value
	case id >= 130 && id < 130+int(NumAxes):
		s.Axis[id-130].MaxTravelMM = value
	case id == 27:
		s.JunctionDeviationMM = value
	case id == 12:
		s.ArcToleranceMM = value
	case id == 13:
		s.ReportInches = value != 0
	case id == 22:
		s.HomingEnabled = value != 0
	default:
		return fmt.Errorf("%w: unknown setting id %d", ErrValueOutOfRange, id)
	}
	return nil
}

// Get returns the current value of setting id, for `$$`.
func (s *Settings) Get(id int) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case id >= 100 && id < 100+int(NumAxes):
		return s.Axis[id-100].StepsPerMM, true
	case id >= 110 && id < 110+int(NumAxes):
		return s.Axis[id-110].MaxRateMMMin, true
	case id >= 120 && id < 120+int(NumAxes):
		return s.Axis[id-120].MaxAccelMMS2, true
	case id >= 130 && id < 130+int(NumAxes):
		return s.Axis[id-130].MaxTravelMM, true
	case id == 27:
		return s.JunctionDeviationMM, true
	case id == 12:
		return s.ArcToleranceMM, true
	case id == 13:
		return boolToFloat(s.ReportInches), true
	case id == 22:
		return boolToFloat(s.HomingEnabled), true
	}
	return 0, false
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// MMToSteps converts a millimetre value to a signed step count for axis.
func (s *Settings) MMToSteps(axis Axis, mm float64) int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int32(mm*s.Axis[axis].StepsPerMM + signOf(mm)*0.5)
}

// StepsToMM converts a step count back to millimetres for axis.
func (s *Settings) StepsToMM(axis Axis, steps int32) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spmm := s.Axis[axis].StepsPerMM
	if spmm == 0 {
		return 0
	}
	return float64(steps) / spmm
}

// MaxRateStepsPerSec returns the axis's configured maximum feed rate
// converted to steps/second.
func (s *Settings) MaxRateStepsPerSec(axis Axis) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Axis[axis].MaxRateMMMin * s.Axis[axis].StepsPerMM / 60.0
}

// MaxAccelStepsPerSec2 returns the axis's configured maximum acceleration
// converted to steps/second².
func (s *Settings) MaxAccelStepsPerSec2(axis Axis) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Axis[axis].MaxAccelMMS2 * s.Axis[axis].StepsPerMM
}

// MaxAccelMMS2 returns the raw per-axis acceleration limit in mm/s².
func (s *Settings) MaxAccelMMS2(axis Axis) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Axis[axis].MaxAccelMMS2
}

// MaxRateMM returns the raw per-axis rate limit in mm/min.
func (s *Settings) MaxRateMM(axis Axis) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Axis[axis].MaxRateMMMin
}

// MaxTravelMM returns the per-axis soft-limit travel in mm.
func (s *Settings) MaxTravelMM(axis Axis) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Axis[axis].MaxTravelMM
}

func signOf(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
