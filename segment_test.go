package grblcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSegmentGenerator_DrainsBlockExactly(t *testing.T) {
	settings := DefaultSettings()
	settings.SegmentTargetMM = 1.5
	pos := &PlannerPosition{}
	planner := NewPlanner(settings, pos, NopLogger{})
	segments := &SegmentRing{}
	gen := NewSegmentGenerator(planner, segments, settings, nil)

	result, err := planner.SubmitLine(AxisVector{10, 5, 0, 0}, 1000, false)
	require.NoError(t, err)
	require.Equal(t, SubmitAccepted, result)

	var total [NumAxes]uint32
	for i := 0; i < 1000 && planner.Occupancy() > 0; i++ {
		gen.Tick()
		for {
			seg := segments.Peek()
			if seg == nil {
				break
			}
			for a := Axis(0); a < NumAxes; a++ {
				total[a] += seg.AxisSteps[a]
			}
			segments.Pop()
		}
	}

	wantX := settings.MMToSteps(AxisX, 10)
	wantY := settings.MMToSteps(AxisY, 5)
	assert.Equal(t, uint32(wantX), total[AxisX])
	assert.Equal(t, uint32(wantY), total[AxisY])
}

func TestSegmentGenerator_TimerPeriodClamped(t *testing.T) {
	settings := DefaultSettings()
	settings.Axis[AxisX].MaxRateMMMin = 1_000_000
	pos := &PlannerPosition{}
	planner := NewPlanner(settings, pos, NopLogger{})
	segments := &SegmentRing{}
	gen := NewSegmentGenerator(planner, segments, settings, nil)

	result, err := planner.SubmitLine(AxisVector{1000, 0, 0, 0}, 1_000_000, true)
	require.NoError(t, err)
	require.Equal(t, SubmitAccepted, result)

	gen.Tick()
	seg := segments.Peek()
	require.NotNil(t, seg)
	assert.GreaterOrEqual(t, seg.TimerPeriod, uint32(minTimerPeriod))
	assert.LessOrEqual(t, seg.TimerPeriod, uint32(maxTimerPeriod))
}

// TestSegmentGenerator_FeedHoldDecelerates covers spec.md §4.G/§5: a feed
// hold must clamp the trapezoid toward zero through the acceleration-bounded
// profile, not merely flip a status flag while pulses keep firing at the
// programmed rate.
func TestSegmentGenerator_FeedHoldDecelerates(t *testing.T) {
	settings := DefaultSettings()
	settings.SegmentTargetMM = 1.5
	pos := &PlannerPosition{}
	planner := NewPlanner(settings, pos, NopLogger{})
	segments := &SegmentRing{}
	holding := false
	gen := NewSegmentGenerator(planner, segments, settings, func() bool { return holding })

	result, err := planner.SubmitLine(AxisVector{500, 0, 0, 0}, 20000, false)
	require.NoError(t, err)
	require.Equal(t, SubmitAccepted, result)

	// Run a few segments up to cruise speed before holding.
	for i := 0; i < 5; i++ {
		gen.Tick()
		for segments.Peek() != nil {
			segments.Pop()
		}
	}
	cruiseSpeed := gen.currentSpeed
	require.Greater(t, cruiseSpeed, 0.0)

	// One Tick fills the whole segment ring, which at this accel and
	// segment length is enough to bring the block from cruise to a stop.
	holding = true
	prev := cruiseSpeed
	for i := 0; i < 3; i++ {
		gen.Tick()
		for segments.Peek() != nil {
			segments.Pop()
		}
		if prev > 0 {
			assert.Less(t, gen.currentSpeed, prev, "speed must strictly decrease each tick a hold is in effect until stopped")
		} else {
			assert.Equal(t, 0.0, gen.currentSpeed, "a held block that has stopped must stay stopped")
		}
		prev = gen.currentSpeed
	}
	assert.Less(t, prev, cruiseSpeed, "a sustained hold must have decelerated the block from cruise speed")
}

// TestSegmentGenerator_DrainsBlockExactlyProperty exercises spec.md §8's "no
// step gained or lost" invariant over randomised block parameters: summing
// every segment's per-axis step count across a fully drained block must
// equal that block's recorded per-axis step delta, exactly, regardless of
// target length, feed rate, or travel distance.
func TestSegmentGenerator_DrainsBlockExactlyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		settings := DefaultSettings()
		settings.SegmentTargetMM = rapid.Float64Range(0.1, 5).Draw(t, "segmentTargetMM")
		pos := &PlannerPosition{}
		planner := NewPlanner(settings, pos, NopLogger{})
		segments := &SegmentRing{}
		gen := NewSegmentGenerator(planner, segments, settings, nil)

		target := AxisVector{
			rapid.Float64Range(-500, 500).Draw(t, "x"),
			rapid.Float64Range(-500, 500).Draw(t, "y"),
			rapid.Float64Range(-500, 500).Draw(t, "z"),
			rapid.Float64Range(-500, 500).Draw(t, "a"),
		}
		feed := rapid.Float64Range(1, 20000).Draw(t, "feed")

		result, err := planner.SubmitLine(target, feed, false)
		require.NoError(t, err)
		if result != SubmitAccepted {
			return
		}
		b := planner.CurrentBlock()
		require.NotNil(t, b)
		wantDelta := b.StepDelta

		var total [NumAxes]uint32
		for i := 0; i < 100_000 && planner.Occupancy() > 0; i++ {
			gen.Tick()
			for {
				seg := segments.Peek()
				if seg == nil {
					break
				}
				for a := Axis(0); a < NumAxes; a++ {
					total[a] += seg.AxisSteps[a]
				}
				segments.Pop()
			}
		}

		for a := Axis(0); a < NumAxes; a++ {
			assert.Equal(t, wantDelta[a], total[a], "axis %d: steps gained or lost across the block's segments", a)
		}
	})
}
