package grblcore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArcGenerator() (*ArcGenerator, *Planner) {
	settings := DefaultSettings()
	pos := &PlannerPosition{}
	planner := NewPlanner(settings, pos, NopLogger{})
	return NewArcGenerator(planner, settings, NopLogger{}), planner
}

func TestArcGenerator_QuarterCircleCCWReturnsToRadius(t *testing.T) {
	g, planner := newTestArcGenerator()
	start := AxisVector{10, 0, 0, 0}
	end := AxisVector{0, 10, 0, 0}
	require.NoError(t, g.Start(start, end, -10, 0, 500, true))
	assert.True(t, g.Active())

	for i := 0; i < 10000 && g.Active(); i++ {
		g.Tick()
		for planner.Occupancy() > 0 {
			b := planner.CurrentBlock()
			if b == nil {
				break
			}
			planner.ReleaseTail()
		}
	}
	assert.False(t, g.Active())
	assert.True(t, g.CanContinue())
	final := planner.pos.Get()
	assert.InDelta(t, 10.0, math.Hypot(final[AxisX], final[AxisY]), 1e-6, "the last arc segment must end on the arc's radius")
}

func TestArcGenerator_RejectsMismatchedRadius(t *testing.T) {
	g, _ := newTestArcGenerator()
	start := AxisVector{10, 0, 0, 0}
	end := AxisVector{0, 5, 0, 0} // radius 5 at end vs radius 10 at start
	err := g.Start(start, end, -10, 0, 500, true)
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeArcGeometry, pe.Code)
}

func TestArcGenerator_RejectsFullCircle(t *testing.T) {
	g, _ := newTestArcGenerator()
	start := AxisVector{10, 0, 0, 0}
	err := g.Start(start, start, -10, 0, 500, true)
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeUnsupportedArc, pe.Code)
}

// TestArcGenerator_BackPressureHysteresis exercises spec.md §4.H's two-
// watermark gating: emission must stop at the high-water mark and only
// resume once NotifyDrained observes occupancy under the low-water mark,
// never resuming merely because occupancy ticked down by one.
func TestArcGenerator_BackPressureHysteresis(t *testing.T) {
	g, planner := newTestArcGenerator()
	start := AxisVector{100, 0, 0, 0}
	end := AxisVector{0, 100, 0, 0}
	require.NoError(t, g.Start(start, end, -100, 0, 500, true))

	for planner.Occupancy() < arcHighWater && g.Active() {
		g.Tick()
	}
	assert.False(t, g.CanContinue(), "must stop emitting at the high-water mark")

	planner.ReleaseTail()
	g.NotifyDrained()
	if planner.Occupancy() >= arcLowWater {
		assert.False(t, g.CanContinue(), "must not resume until below the low-water mark")
	}

	for planner.Occupancy() >= arcLowWater {
		planner.ReleaseTail()
	}
	g.NotifyDrained()
	assert.True(t, g.CanContinue())
}

// TestArcGenerator_FinishForcesCanContinueRegardlessOfOccupancy is the
// mandatory cleanup invariant from spec.md §4.H: once an arc completes or is
// aborted, the back-pressure flag must be true even if the ring is still at
// or above the high-water mark, or the buffered blocks would never drain.
func TestArcGenerator_FinishForcesCanContinueRegardlessOfOccupancy(t *testing.T) {
	g, planner := newTestArcGenerator()
	start := AxisVector{5, 0, 0, 0}
	end := AxisVector{0, 5, 0, 0}
	require.NoError(t, g.Start(start, end, -5, 0, 500, true))

	for i := 0; i < ringSize; i++ {
		result, err := planner.SubmitLine(AxisVector{float64(i + 1000), 0, 0, 0}, 500, false)
		require.NoError(t, err)
		if result == SubmitBufferFull {
			break
		}
	}
	g.canContinue.Store(false)

	g.Abort()
	assert.True(t, g.CanContinue())
	assert.False(t, g.Active())
}

// TestArcGenerator_ConsecutiveArcsDoNotDeadlock is the regression scenario
// named directly in spec.md §8: starting a second arc immediately after the
// first completes must not inherit a stuck false back-pressure flag.
func TestArcGenerator_ConsecutiveArcsDoNotDeadlock(t *testing.T) {
	g, planner := newTestArcGenerator()

	drain := func() {
		for i := 0; i < 10000 && g.Active(); i++ {
			g.Tick()
			for planner.Occupancy() > 0 {
				planner.ReleaseTail()
			}
		}
	}

	require.NoError(t, g.Start(AxisVector{10, 0, 0, 0}, AxisVector{0, 10, 0, 0}, -10, 0, 500, true))
	drain()
	require.False(t, g.Active())

	require.NoError(t, g.Start(AxisVector{0, 10, 0, 0}, AxisVector{-10, 0, 0, 0}, 0, -10, 500, true))
	assert.True(t, g.CanContinue(), "second arc must not start wedged by the first arc's flag state")
	drain()
	require.False(t, g.Active())
}

func TestArcGenerator_BufferFullRetriesSameSegment(t *testing.T) {
	g, planner := newTestArcGenerator()
	for i := 0; i < ringSize; i++ {
		result, err := planner.SubmitLine(AxisVector{float64(i + 1), 0, 0, 0}, 500, false)
		require.NoError(t, err)
		require.Equal(t, SubmitAccepted, result)
	}

	require.NoError(t, g.Start(AxisVector{1000, 0, 0, 0}, AxisVector{0, 1000, 0, 0}, -1000, 0, 500, true))
	// Start left canContinue false (16 blocks >= high water); force it so
	// Tick gets past the watermark gate to the planner's buffer-full reply.
	g.canContinue.Store(true)
	indexBefore := g.index
	g.Tick()
	assert.Equal(t, indexBefore, g.index, "a full ring must not advance the arc's segment index")
	assert.True(t, g.Active())
	assert.False(t, math.IsNaN(g.sweep))
}
