package grblcore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestPlanner() (*Planner, *Settings, *PlannerPosition) {
	s := DefaultSettings()
	pos := &PlannerPosition{}
	return NewPlanner(s, pos, NopLogger{}), s, pos
}

func TestSubmitLine_EmptyBlockOnZeroDelta(t *testing.T) {
	p, _, pos := newTestPlanner()
	pos.Set(AxisVector{10, 10, 0, 0})

	result, err := p.SubmitLine(AxisVector{10, 10, 0, 0}, 1000, false)
	require.NoError(t, err)
	assert.Equal(t, SubmitEmptyBlock, result)
	assert.Equal(t, 0, p.Occupancy())
}

func TestSubmitLine_AcceptedAdvancesPosition(t *testing.T) {
	p, _, pos := newTestPlanner()

	result, err := p.SubmitLine(AxisVector{10, 10, 0, 0}, 1000, false)
	require.NoError(t, err)
	assert.Equal(t, SubmitAccepted, result)
	assert.Equal(t, 1, p.Occupancy())
	assert.Equal(t, AxisVector{10, 10, 0, 0}, pos.Get())
}

func TestSubmitLine_BufferFullDoesNotMutatePosition(t *testing.T) {
	p, _, pos := newTestPlanner()

	for i := 0; i < ringSize; i++ {
		result, err := p.SubmitLine(AxisVector{float64(i + 1), 0, 0, 0}, 1000, false)
		require.NoError(t, err)
		require.Equal(t, SubmitAccepted, result)
	}

	before := pos.Get()
	result, err := p.SubmitLine(AxisVector{9999, 0, 0, 0}, 1000, false)
	require.NoError(t, err)
	assert.Equal(t, SubmitBufferFull, result)
	assert.Equal(t, before, pos.Get())
}

// TestBlockRingInvariants exercises spec.md §8's per-block invariants over
// arbitrary sequences of moves within the ring's capacity.
func TestBlockRingInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p, _, _ := newTestPlanner()
		n := rapid.IntRange(1, ringSize).Draw(t, "n")
		for i := 0; i < n; i++ {
			x := rapid.Float64Range(-500, 500).Draw(t, "x")
			y := rapid.Float64Range(-500, 500).Draw(t, "y")
			feed := rapid.Float64Range(1, 5000).Draw(t, "feed")
			result, err := p.SubmitLine(AxisVector{x, y, 0, 0}, feed, false)
			require.NoError(t, err)
			if result == SubmitBufferFull {
				break
			}
		}

		p.mu.Lock()
		count := p.count
		for i := 0; i < count; i++ {
			b := p.blocks[p.idx(i)]
			assert.LessOrEqualf(t, b.EntrySpeedSq, b.MaxEntrySpeedSq+1e-6, "block %d entry speed exceeds its junction limit", i)
			if i+1 < count {
				n := p.blocks[p.idx(i+1)]
				assert.LessOrEqualf(t, b.EntrySpeedSq, n.EntrySpeedSq+2*b.AccelMMS2*b.LengthMM+1e-6, "reverse-pass invariant violated at %d", i)
				assert.LessOrEqualf(t, n.EntrySpeedSq, b.EntrySpeedSq+2*b.AccelMMS2*b.LengthMM+1e-6, "forward-pass invariant violated at %d", i)
			}
		}
		if count > 0 {
			head := p.blocks[p.idx(count-1)]
			assert.LessOrEqualf(t, head.EntrySpeedSq, 2*head.AccelMMS2*head.LengthMM+1e-6, "head block not stoppable within itself")
		}
		p.mu.Unlock()
	})
}

func TestClosedPolygonReturnsToOrigin(t *testing.T) {
	p, s, pos := newTestPlanner()
	moves := []AxisVector{
		{0, 10, 0, 0},
		{10, 10, 0, 0},
		{10, 0, 0, 0},
		{0, 0, 0, 0},
	}
	for _, m := range moves {
		result, err := p.SubmitLine(m, 1000, false)
		require.NoError(t, err)
		require.Equal(t, SubmitAccepted, result)
	}
	final := pos.Get()
	for a := Axis(0); a < NumAxes; a++ {
		steps := s.MMToSteps(a, final[a])
		assert.Equal(t, int32(0), steps)
	}
}

func TestReleaseTailFreesSlotAndUnlocksTail(t *testing.T) {
	p, _, _ := newTestPlanner()
	_, err := submitOK(t, p, AxisVector{10, 0, 0, 0}, 500)
	require.NoError(t, err)

	b := p.CurrentBlock()
	require.NotNil(t, b)
	assert.Equal(t, 1, p.Occupancy())

	p.ReleaseTail()
	assert.False(t, p.tailLocked, "releasing the tail must unlock it for replanning")
	assert.Equal(t, 0, p.Occupancy())
	assert.Nil(t, p.CurrentBlock())
}

func submitOK(t *testing.T, p *Planner, target AxisVector, feed float64) (SubmitResult, error) {
	t.Helper()
	r, err := p.SubmitLine(target, feed, false)
	return r, err
}

func TestJunctionColinearKeepsNominalSpeed(t *testing.T) {
	p, _, _ := newTestPlanner()
	r1, err := p.SubmitLine(AxisVector{10, 0, 0, 0}, 1000, false)
	require.NoError(t, err)
	require.Equal(t, SubmitAccepted, r1)

	r2, err := p.SubmitLine(AxisVector{20, 0, 0, 0}, 1000, false)
	require.NoError(t, err)
	require.Equal(t, SubmitAccepted, r2)

	p.mu.Lock()
	second := p.blocks[p.idx(1)]
	p.mu.Unlock()
	assert.True(t, second.MaxEntrySpeedSq > 0)
	assert.False(t, math.IsNaN(second.MaxEntrySpeedSq))
}
