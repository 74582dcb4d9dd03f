package grblcore

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/strftime"
)

const buildVersion = "1.1"

// stampPattern is a plain ISO-ish stamp, specified with a strftime pattern
// rather than time.Format's reference-date layout string.
const stampPattern = "%Y-%m-%d %H:%M:%S"

// StatusReport composes one `?` reply from the step counters and
// coordinate offsets; no motion state is locked while doing so — a
// momentarily inconsistent report is acceptable (spec.md §4.I).
type StatusReport struct {
	State      MachineState
	MachineMM  AxisVector
	WorkMM     AxisVector
	FeedRate   float64
	SpindleRPM float64
}

// BuildStatusReport snapshots everything needed for one `?` reply.
func BuildStatusReport(state MachineState, position *MachinePosition, coords *CoordinateOffsets, settings *Settings, feed, spindle float64) StatusReport {
	machineMM := position.GetMM(settings)
	return StatusReport{
		State:      state,
		MachineMM:  machineMM,
		WorkMM:     coords.WorkMM(machineMM),
		FeedRate:   feed,
		SpindleRPM: spindle,
	}
}

// String renders the status line per spec.md §6:
// "<State|MPos:x,y,z,a|WPos:x,y,z,a|FS:feed,spindle>".
func (s StatusReport) String() string {
	return fmt.Sprintf("<%s|MPos:%s|WPos:%s|FS:%.3f,%.3f>",
		s.State, formatAxisVector(s.MachineMM), formatAxisVector(s.WorkMM), s.FeedRate, s.SpindleRPM)
}

func formatAxisVector(v AxisVector) string {
	return fmt.Sprintf("%.3f,%.3f,%.3f,%.3f", v[AxisX], v[AxisY], v[AxisZ], v[AxisA])
}

// Banner is emitted on first connection and after every soft reset
// (spec.md §6, §7).
func Banner() []string {
	return []string{
		fmt.Sprintf("[VER:%s]", buildVersion),
		"[OPT:4AXIS]",
		"[MSG:Reset to continue]",
	}
}

// BuildInfo answers `$I` (spec.md §6). buildTime is the firmware's own
// notion of "now" at the moment of the query, not a fixed compile-time
// stamp, since this firmware has no link-time injection step.
func BuildInfo(buildTime time.Time) []string {
	stamp, err := strftime.Format(stampPattern, buildTime)
	if err != nil {
		stamp = buildTime.UTC().String()
	}
	return []string{
		fmt.Sprintf("[VER:%s:grblcore]", buildVersion),
		fmt.Sprintf("[STAMP:%s]", stamp),
	}
}

// FormatSettingsDump answers `$$` — one `$<n>=<v>` line per known setting
// id, in ascending id order.
func FormatSettingsDump(s *Settings) []string {
	ids := []int{12, 13, 22, 27}
	for _, base := range []int{100, 110, 120, 130} {
		for a := 0; a < int(NumAxes); a++ {
			ids = append(ids, base+a)
		}
	}

	var lines []string
	for _, id := range ids {
		if v, ok := s.Get(id); ok {
			lines = append(lines, fmt.Sprintf("$%d=%v", id, v))
		}
	}
	return lines
}

// FormatOffsetsDump answers `$#` (spec.md §6).
func FormatOffsetsDump(c *CoordinateOffsets) []string {
	var lines []string
	names := []string{"G54", "G55", "G56", "G57", "G58", "G59"}
	for i, name := range names {
		lines = append(lines, fmt.Sprintf("[%s:%s]", name, formatAxisVector(c.WCSOffset(i))))
	}
	lines = append(lines, fmt.Sprintf("[G28:%s]", formatAxisVector(c.Predefined28())))
	lines = append(lines, fmt.Sprintf("[G30:%s]", formatAxisVector(c.Predefined30())))
	lines = append(lines, fmt.Sprintf("[G92:%s]", formatAxisVector(c.G92())))
	lines = append(lines, "[TLO:0.000]")
	lines = append(lines, "[PRB:0.000,0.000,0.000,0.000:0]")
	return lines
}

// FormatModalDump answers `$G` (spec.md §6).
func FormatModalDump(m ModalState) string {
	plane := "G17"
	switch m.Plane {
	case PlaneXZ:
		plane = "G18"
	case PlaneYZ:
		plane = "G19"
	}
	units := "G21"
	if m.Units == UnitInch {
		units = "G20"
	}
	dist := "G90"
	if m.Distance == DistanceIncremental {
		dist = "G91"
	}
	return fmt.Sprintf("[GC:%s %s %s G5%d F%.3f S%.3f]", plane, units, dist, m.ActiveWCS+4, m.LastFeed, m.LastSpindle)
}
