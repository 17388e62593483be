package dispatch

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/marstek/core/model"
)

type fakeUnit struct {
	name            string
	soc             float64
	chargeCutoff    float64
	dischargeCutoff float64
	maxCharge       uint16
	maxDischarge    uint16
	err             error
	applied         []model.Command
}

func newFake(name string, limit uint16) *fakeUnit {
	return &fakeUnit{name: name, soc: 50, chargeCutoff: 100, dischargeCutoff: 12, maxCharge: limit, maxDischarge: limit}
}

func (f *fakeUnit) Name() string       { return f.name }
func (f *fakeUnit) CanCharge() bool    { return f.soc < f.chargeCutoff }
func (f *fakeUnit) CanDischarge() bool { return f.soc > f.dischargeCutoff }
func (f *fakeUnit) MaxPower(m model.Mode) uint16 {
	if m == model.ModeCharge {
		return f.maxCharge
	}
	return f.maxDischarge
}
func (f *fakeUnit) ApplyCommand(c model.Command) error {
	f.applied = append(f.applied, c)
	return f.err
}

func (f *fakeUnit) last() model.Command {
	if len(f.applied) == 0 {
		return model.Command{}
	}
	return f.applied[len(f.applied)-1]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func units(fs ...*fakeUnit) []Unit {
	out := make([]Unit, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func TestDispatchPriorityRotation(t *testing.T) {
	a, b := newFake("a", 2000), newFake("b", 1000)
	e := NewEngine(nil)
	res := e.Dispatch(model.Command{Mode: model.ModeDischarge, PowerW: 2500}, units(a, b), Options{PriorityIndex: 2})

	assert.Equal(t, model.Command{Mode: model.ModeDischarge, PowerW: 1000}, b.last())
	assert.Equal(t, model.Command{Mode: model.ModeDischarge, PowerW: 1500}, a.last())
	require.Len(t, res.Assignments, 2)
	assert.Equal(t, "b", res.Assignments[0].Unit)
	assert.EqualValues(t, 2500, res.TotalW())
	assert.Empty(t, res.Errors)
}

func TestDispatchOutOfRangePriorityKeepsOrder(t *testing.T) {
	for _, p := range []int{0, -1, 3} {
		a, b := newFake("a", 2000), newFake("b", 1000)
		NewEngine(nil).Dispatch(model.Command{Mode: model.ModeCharge, PowerW: 2500}, units(a, b), Options{PriorityIndex: p})
		assert.EqualValues(t, 2000, a.last().PowerW, "priority %d", p)
		assert.EqualValues(t, 500, b.last().PowerW, "priority %d", p)
	}
}

func TestDispatchClampsToCapacity(t *testing.T) {
	a, b := newFake("a", 2000), newFake("b", 1000)
	res := NewEngine(nil).Dispatch(model.Command{Mode: model.ModeCharge, PowerW: 9000}, units(a, b), Options{})
	assert.EqualValues(t, 3000, res.Capacity)
	assert.EqualValues(t, 3000, res.Target)
	assert.EqualValues(t, 3000, res.TotalW())
}

func TestDispatchStopReachesEveryUnit(t *testing.T) {
	a, b, c := newFake("a", 2000), newFake("b", 1000), newFake("c", 0)
	NewEngine(nil).Dispatch(model.Stop, units(a, b, c), Options{})
	for _, f := range []*fakeUnit{a, b, c} {
		require.Len(t, f.applied, 1, f.name)
		assert.Equal(t, model.Stop, f.applied[0])
	}
}

func TestDispatchLeavesUnreachedUnitsUntouched(t *testing.T) {
	a, b := newFake("a", 2000), newFake("b", 2000)
	NewEngine(nil).Dispatch(model.Command{Mode: model.ModeDischarge, PowerW: 1000}, units(a, b), Options{})
	assert.EqualValues(t, 1000, a.last().PowerW)
	assert.Empty(t, b.applied)
}

func TestDispatchIneligibleUnitIsStopped(t *testing.T) {
	a, b := newFake("a", 2000), newFake("b", 2000)
	a.soc = 100
	res := NewEngine(nil).Dispatch(model.Command{Mode: model.ModeCharge, PowerW: 1500}, units(a, b), Options{})
	assert.Equal(t, model.Stop, a.last())
	assert.Equal(t, model.Command{Mode: model.ModeCharge, PowerW: 1500}, b.last())
	assert.Equal(t, "ineligible", res.Assignments[0].Reason)
}

func TestDispatchUnknownSoCIsIneligible(t *testing.T) {
	a := newFake("a", 2000)
	a.soc = math.NaN()
	NewEngine(nil).Dispatch(model.Command{Mode: model.ModeDischarge, PowerW: 500}, units(a), Options{})
	// the single unit is re-admitted by the second pass
	assert.Equal(t, []model.Command{model.Stop, {Mode: model.ModeDischarge, PowerW: 500}}, a.applied)
}

func TestDispatchSecondPassReadmitsIneligible(t *testing.T) {
	a, b := newFake("a", 2000), newFake("b", 1000)
	b.soc = 10
	res := NewEngine(nil).Dispatch(model.Command{Mode: model.ModeDischarge, PowerW: 2500}, units(a, b), Options{})

	assert.Equal(t, []model.Command{{Mode: model.ModeDischarge, PowerW: 2000}}, a.applied)
	assert.Equal(t, []model.Command{model.Stop, {Mode: model.ModeDischarge, PowerW: 500}}, b.applied)
	assert.EqualValues(t, 2500, res.TotalW())
	assert.Equal(t, "redistributed", res.Assignments[len(res.Assignments)-1].Reason)
}

func TestDispatchFailureIsBestEffort(t *testing.T) {
	a, b := newFake("a", 1000), newFake("b", 1000)
	a.err = errors.New("link down")
	res := NewEngine(nil).Dispatch(model.Command{Mode: model.ModeCharge, PowerW: 1500}, units(a, b), Options{})

	assert.EqualValues(t, 1000, a.last().PowerW)
	assert.Equal(t, []model.Command{{Mode: model.ModeCharge, PowerW: 500}}, b.applied)
	require.Contains(t, res.Errors, "a")
	assert.NotContains(t, res.Errors, "b")
}

func TestDispatchIdleHold(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngineWithClock(nil, clk.now)
	a := newFake("a", 2000)
	opts := Options{IdleHold: 5 * time.Minute}

	e.Dispatch(model.Command{Mode: model.ModeDischarge, PowerW: 800}, units(a), opts)
	require.Len(t, a.applied, 1)

	clk.t = clk.t.Add(time.Minute)
	res := e.Dispatch(model.Stop, units(a), opts)
	assert.True(t, res.Held)
	assert.Len(t, a.applied, 1)

	res = e.Dispatch(model.Command{Mode: model.ModeCharge}, units(a), opts)
	assert.True(t, res.Held, "zero power counts as idle")

	clk.t = clk.t.Add(5 * time.Minute)
	res = e.Dispatch(model.Stop, units(a), opts)
	assert.False(t, res.Held)
	assert.Equal(t, model.Stop, a.last())
}

func TestDispatchStopWithoutPriorActivityIsApplied(t *testing.T) {
	a := newFake("a", 2000)
	res := NewEngine(nil).Dispatch(model.Stop, units(a), Options{IdleHold: time.Hour})
	assert.False(t, res.Held)
	assert.Equal(t, []model.Command{model.Stop}, a.applied)
}

func randomFleet(r *rand.Rand) []*fakeUnit {
	n := 1 + r.Intn(5)
	out := make([]*fakeUnit, n)
	for i := range out {
		f := newFake(string(rune('a'+i)), uint16(r.Intn(3000)))
		f.maxCharge = uint16(r.Intn(3000))
		f.soc = float64(r.Intn(101))
		f.chargeCutoff = float64(50 + r.Intn(51))
		f.dischargeCutoff = float64(r.Intn(50))
		out[i] = f
	}
	return out
}

func randomCommand(r *rand.Rand) model.Command {
	modes := []model.Mode{model.ModeStop, model.ModeCharge, model.ModeDischarge}
	return model.Command{Mode: modes[r.Intn(3)], PowerW: uint16(r.Intn(12000))}
}

func TestDispatchCapacityInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		fleet := randomFleet(r)
		cmd := randomCommand(r)
		res := NewEngine(nil).Dispatch(cmd, units(fleet...), Options{PriorityIndex: r.Intn(7)})

		var capacity uint32
		for _, f := range fleet {
			capacity += uint32(f.MaxPower(cmd.Mode))
		}
		bound := min32(uint32(cmd.PowerW), capacity)
		if cmd.Mode == model.ModeStop {
			bound = 0
		}
		require.LessOrEqual(t, res.TotalW(), bound, "case %d cmd %s", i, cmd)
		for _, f := range fleet {
			require.LessOrEqual(t, f.last().PowerW, f.MaxPower(cmd.Mode), "case %d unit %s", i, f.name)
		}
	}
}

func TestDispatchEligibilityInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 2000; i++ {
		fleet := randomFleet(r)
		cmd := randomCommand(r)
		if cmd.Mode == model.ModeStop {
			continue
		}
		NewEngine(nil).Dispatch(cmd, units(fleet...), Options{PriorityIndex: r.Intn(7)})

		saturated := true
		for _, f := range fleet {
			if eligible(f, cmd.Mode) && f.last().PowerW < f.MaxPower(cmd.Mode) {
				saturated = false
			}
		}
		for _, f := range fleet {
			if eligible(f, cmd.Mode) {
				continue
			}
			if len(f.applied) > 0 {
				assert.Equal(t, model.Stop, f.applied[0], "case %d: ineligible %s must be stopped first", i, f.name)
			}
			if !saturated {
				assert.Zero(t, f.last().PowerW, "case %d: %s powered while eligible units had headroom", i, f.name)
			}
		}
	}
}
