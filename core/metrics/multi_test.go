package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	units  int
	cycles int
	err    error
}

func (r *recordSink) RecordUnitState(UnitStateEvent) error {
	r.units++
	return r.err
}

func (r *recordSink) RecordCycle(CycleEvent) error {
	r.cycles++
	return r.err
}

func TestMultiSinkForwardsToAll(t *testing.T) {
	a, b := &recordSink{}, &recordSink{}
	m := NewMultiSink(a, b)
	require.NoError(t, m.RecordUnitState(UnitStateEvent{Unit: "venus-1"}))
	require.NoError(t, m.RecordCycle(CycleEvent{Outcome: OutcomeDispatched}))
	assert.Equal(t, 1, a.units)
	assert.Equal(t, 1, b.units)
	assert.Equal(t, 1, a.cycles)
	assert.Equal(t, 1, b.cycles)
}

func TestMultiSinkContinuesAfterError(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recordSink{err: boom}, &recordSink{}
	err := NewMultiSink(a, b).RecordCycle(CycleEvent{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, b.cycles)
}

type closingSink struct {
	NopSink
	closed bool
}

func (c *closingSink) Close() { c.closed = true }

func TestMultiSinkClose(t *testing.T) {
	c := &closingSink{}
	NewMultiSink(&recordSink{}, c).Close()
	assert.True(t, c.closed)
}
