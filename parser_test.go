package grblcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser() (*Parser, *PlannerPosition, *CoordinateOffsets, *Settings) {
	settings := DefaultSettings()
	pos := &PlannerPosition{}
	coords := NewCoordinateOffsets(settings)
	return NewParser(pos, coords, settings, func() bool { return false }), pos, coords, settings
}

func TestParseLine_SimpleLinearMove(t *testing.T) {
	p, _, _, _ := newTestParser()
	intents, err := p.ParseLine("G1 X10 Y20 F500")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, MotionLinear, intents[0].Mode)
	assert.Equal(t, 10.0, intents[0].TargetMM[AxisX])
	assert.Equal(t, 20.0, intents[0].TargetMM[AxisY])
	assert.Equal(t, 500.0, intents[0].FeedRate)
}

func TestParseLine_UnspecifiedAxesInheritPlannerPosition(t *testing.T) {
	p, pos, _, _ := newTestParser()
	pos.Set(AxisVector{1, 2, 3, 4})

	intents, err := p.ParseLine("G1 X10 F500")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, 10.0, intents[0].TargetMM[AxisX])
	assert.Equal(t, 2.0, intents[0].TargetMM[AxisY])
	assert.Equal(t, 3.0, intents[0].TargetMM[AxisZ])
	assert.Equal(t, 4.0, intents[0].TargetMM[AxisA])
}

func TestParseLine_FeedModalAcrossLines(t *testing.T) {
	p, _, _, _ := newTestParser()
	_, err := p.ParseLine("G1 X1 F300")
	require.NoError(t, err)

	intents, err := p.ParseLine("G1 X2")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, 300.0, intents[0].FeedRate)
}

func TestParseLine_IncrementalDistanceAccumulates(t *testing.T) {
	p, pos, _, _ := newTestParser()
	first, err := p.ParseLine("G91 G1 X5 F100")
	require.NoError(t, err)
	require.Len(t, first, 1)
	// The parser reads but never writes planner position; advance it as
	// the planner would on accepting the first move.
	pos.Set(first[0].TargetMM)
	intents, err := p.ParseLine("G1 X5")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, 10.0, intents[0].TargetMM[AxisX])
}

func TestParseLine_G54ThenG55OffsetsWorkPosition(t *testing.T) {
	p, _, coords, settings := newTestParser()
	coords.SetWCSOffset(1, AxisVector{100, 0, 0, 0}) // G55

	_, err := p.ParseLine("G10 L2 P1 X0")
	require.NoError(t, err)
	_ = settings

	intents, err := p.ParseLine("G55 G1 X10 F500")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	// work X10 in G55 (offset 100) -> machine frame 110
	assert.Equal(t, 110.0, intents[0].TargetMM[AxisX])
	assert.Equal(t, 1, coords.ActiveWCS())
}

// TestParseLine_NonModalGCombinesWithMotionOnSameLine is the combination
// NIST RS274/grbl G-code relies on constantly ("G53 G0 X0 Y0"): a non-modal
// marker word and the motion word it modifies must resolve as one command,
// not flush into two.
func TestParseLine_NonModalGCombinesWithMotionOnSameLine(t *testing.T) {
	p, _, coords, _ := newTestParser()
	coords.SetWCSOffset(0, AxisVector{100, 0, 0, 0})

	intents, err := p.ParseLine("G53 G0 X10")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, MotionRapid, intents[0].Mode)
	assert.Equal(t, 10.0, intents[0].TargetMM[AxisX], "G53 must bypass the active WCS offset")
}

// TestParseLine_TwoMotionWordsOnOneLineEachResolve covers the other half of
// spec.md §4.D item 2: a line legitimately carrying two distinct motion
// commands must still emit two intents in order.
func TestParseLine_TwoMotionWordsOnOneLineEachResolve(t *testing.T) {
	p, _, _, _ := newTestParser()
	intents, err := p.ParseLine("G0 X0 Y0 G1 X10 F100")
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, MotionRapid, intents[0].Mode)
	assert.Equal(t, MotionLinear, intents[1].Mode)
	assert.Equal(t, 10.0, intents[1].TargetMM[AxisX])
}

func TestParseLine_WCSSelectionRollsBackOnLaterError(t *testing.T) {
	p, _, coords, _ := newTestParser()
	require.Equal(t, 0, coords.ActiveWCS())

	_, err := p.ParseLine("G55 Q1")
	require.Error(t, err)
	assert.Equal(t, 0, coords.ActiveWCS(), "a later error in the line must roll back the WCS switch too")
}

func TestParseLine_ArcRequiresIOrJ(t *testing.T) {
	p, _, _, _ := newTestParser()
	_, err := p.ParseLine("G2 X10 Y10 F500")
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeArcGeometry, pe.Code)
}

func TestParseLine_ArcOutsideXYPlaneRejected(t *testing.T) {
	p, _, _, _ := newTestParser()
	_, err := p.ParseLine("G18 G2 X10 Y10 I5 F500")
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeUnsupportedArc, pe.Code)
}

func TestParseLine_RejectsMotionWhileArcActive(t *testing.T) {
	settings := DefaultSettings()
	pos := &PlannerPosition{}
	coords := NewCoordinateOffsets(settings)
	active := true
	p := NewParser(pos, coords, settings, func() bool { return active })

	_, err := p.ParseLine("G1 X10 F500")
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeArcActive, pe.Code)

	// Rapids are motion commands too and are rejected the same way.
	_, err = p.ParseLine("G0 X10")
	require.Error(t, err)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeArcActive, pe.Code)
}

func TestParseLine_UnknownLetterRejected(t *testing.T) {
	p, _, _, _ := newTestParser()
	_, err := p.ParseLine("Q5")
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeUnknownLetter, pe.Code)
}

func TestParseLine_MalformedLineLeavesModalUntouched(t *testing.T) {
	p, _, _, _ := newTestParser()
	_, err := p.ParseLine("G91")
	require.NoError(t, err)
	before := p.Modal

	_, err = p.ParseLine("G90 Q1")
	require.Error(t, err)
	assert.Equal(t, before, p.Modal, "a mid-line error must not commit any modal change")
}

func TestParseLine_CommentsAndBlankLinesIgnored(t *testing.T) {
	p, _, _, _ := newTestParser()
	intents, err := p.ParseLine("; a full line comment")
	require.NoError(t, err)
	assert.Nil(t, intents)

	intents, err = p.ParseLine("G1 (inline) X5 F100")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, 5.0, intents[0].TargetMM[AxisX])
}

func TestParseLine_InchesConvertToMM(t *testing.T) {
	p, _, _, _ := newTestParser()
	intents, err := p.ParseLine("G20 G1 X1 F10")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.InDelta(t, mmPerInch, intents[0].TargetMM[AxisX], 1e-9)
}

func TestParseLine_DwellProducesNoAxisMotion(t *testing.T) {
	p, _, _, _ := newTestParser()
	intents, err := p.ParseLine("G4 P0.5")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, MotionDwell, intents[0].Mode)
	assert.Equal(t, 0.5, intents[0].DwellSec)
}

func TestParseLine_G28StoresAndReturnsToPredefinedPosition(t *testing.T) {
	p, pos, coords, _ := newTestParser()
	pos.Set(AxisVector{1, 2, 3, 4})

	_, err := p.ParseLine("G28.1")
	require.NoError(t, err)
	assert.Equal(t, AxisVector{1, 2, 3, 4}, coords.Predefined28())

	pos.Set(AxisVector{9, 9, 9, 9})
	intents, err := p.ParseLine("G28")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, AxisVector{1, 2, 3, 4}, intents[0].TargetMM)
	assert.Equal(t, MotionRapid, intents[0].Mode)
}

func TestParseLine_G92SetsWorkOffsetThenG92_1Clears(t *testing.T) {
	p, pos, coords, _ := newTestParser()
	pos.Set(AxisVector{50, 0, 0, 0})

	_, err := p.ParseLine("G92 X0")
	require.NoError(t, err)
	work := coords.WorkMM(pos.Get())
	assert.InDelta(t, 0, work[AxisX], 1e-9)

	_, err = p.ParseLine("G92.1")
	require.NoError(t, err)
	work = coords.WorkMM(pos.Get())
	assert.InDelta(t, 50, work[AxisX], 1e-9)
}

func TestParseLine_G53IsMachineFrameOneShot(t *testing.T) {
	p, _, coords, _ := newTestParser()
	coords.SetWCSOffset(0, AxisVector{100, 0, 0, 0})

	intents, err := p.ParseLine("G53 G0 X10")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, 10.0, intents[0].TargetMM[AxisX])
}
