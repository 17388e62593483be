// Package controller runs the control cycle: refresh the fleet, resolve the
// strategy, compute the aggregate command and dispatch it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/marstek/core/battery"
	"github.com/kilianp07/marstek/core/command"
	"github.com/kilianp07/marstek/core/dispatch"
	"github.com/kilianp07/marstek/core/events"
	"github.com/kilianp07/marstek/core/logger"
	"github.com/kilianp07/marstek/core/metrics"
	"github.com/kilianp07/marstek/core/model"
	"github.com/kilianp07/marstek/core/params"
	"github.com/kilianp07/marstek/core/strategy"
	"github.com/kilianp07/marstek/internal/eventbus"
)

// Work mode written when the operator takes manual control.
const manualWorkMode uint16 = 0

// ErrNoUnits is returned by New for an empty fleet.
var ErrNoUnits = errors.New("controller: no battery units")

// Options are optional collaborators of a Controller.
type Options struct {
	// Clock feeds the strategy resolver. Defaults to strategy.SystemClock.
	Clock strategy.Clock
	// Now stamps events and drives the idle hold. Defaults to time.Now.
	Now    func() time.Time
	Bus    eventbus.EventBus
	Logger logger.Logger
}

// Controller owns the fleet and the regulator state. Tick calls are
// serialized; the last strategy and command may be read concurrently.
type Controller struct {
	units    []*battery.Unit
	params   params.Provider
	resolver *strategy.Resolver
	computer *command.Computer
	engine   *dispatch.Engine
	bus      eventbus.EventBus
	log      logger.Logger
	now      func() time.Time

	tick sync.Mutex

	mu           sync.RWMutex
	lastStrategy model.Strategy
	lastCommand  model.Command
}

// New returns a controller for units reading settings from p.
func New(units []*battery.Unit, p params.Provider, opts Options) (*Controller, error) {
	if len(units) == 0 {
		return nil, ErrNoUnits
	}
	if p == nil {
		return nil, fmt.Errorf("controller: nil parameter provider")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		units:        units,
		params:       p,
		resolver:     strategy.NewResolver(p, opts.Clock),
		computer:     command.NewComputer(p),
		engine:       dispatch.NewEngineWithClock(log, now),
		bus:          opts.Bus,
		log:          log,
		now:          now,
		lastStrategy: model.StrategyUnknown,
		lastCommand:  model.Stop,
	}, nil
}

// Units returns the managed units in configuration order.
func (c *Controller) Units() []*battery.Unit { return c.units }

// LastStrategy returns the strategy resolved by the last dispatched cycle.
func (c *Controller) LastStrategy() model.Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastStrategy
}

// LastCommand returns the aggregate command of the last dispatched cycle.
func (c *Controller) LastCommand() model.Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCommand
}

// Tick runs one control cycle. Device failures never fail the cycle; only a
// cancelled context is returned as an error, in which case the remaining
// steps are skipped.
func (c *Controller) Tick(ctx context.Context) (ev events.CycleCompleted, err error) {
	c.tick.Lock()
	defer c.tick.Unlock()

	ev = events.CycleCompleted{CycleID: uuid.NewString(), Started: c.now()}
	// Unit snapshots are published once the cycle is over so they carry the
	// command applied in this cycle.
	refreshErrs := make([]error, 0, len(c.units))
	defer func() {
		for i, rerr := range refreshErrs {
			u := c.units[i]
			c.publish(events.UnitRefreshed{CycleID: ev.CycleID, Snapshot: u.Snapshot(), Err: rerr, Time: c.now()})
		}
		ev.Duration = c.now().Sub(ev.Started)
		c.publish(ev)
	}()

	for _, u := range c.units {
		if err := ctx.Err(); err != nil {
			return ev, err
		}
		rerr := u.Refresh()
		if rerr != nil {
			c.log.Warnf("refresh %s: %v", u.Name(), rerr)
		}
		refreshErrs = append(refreshErrs, rerr)
	}
	c.applyLimits()

	ev.MasterMode = model.ParseMasterMode(c.params.Text(params.KeyMasterMode, model.MasterFull.String()))
	switch ev.MasterMode {
	case model.MasterFull:
	case model.MasterManual, model.MasterMarstek:
		c.release(ev.MasterMode)
		ev.Outcome = metrics.OutcomeMasterMode
		return ev, nil
	default:
		c.log.Warnf("cycle %s: unrecognized master mode %q, no command issued", ev.CycleID, c.params.Text(params.KeyMasterMode, ""))
		ev.Outcome = metrics.OutcomeUnknownMasterMode
		return ev, nil
	}

	grid := c.params.Number(params.KeyGridPower, math.NaN())
	if math.IsNaN(grid) {
		c.log.Debugf("cycle %s: grid power unavailable", ev.CycleID)
		ev.Outcome = metrics.OutcomeNoGridPower
		return ev, nil
	}
	if err := ctx.Err(); err != nil {
		return ev, err
	}

	in := c.aggregate(grid)
	ev.GridPowerW, ev.TotalEnergyKWh, ev.AvgSoC = in.GridPowerW, in.TotalEnergyKWh, in.AvgSoC
	ev.Strategy = c.resolver.Resolve()
	ev.Command = c.computer.Compute(ev.Strategy, in)

	c.mu.Lock()
	c.lastStrategy, c.lastCommand = ev.Strategy, ev.Command
	c.mu.Unlock()

	ev.Dispatch = c.engine.Dispatch(ev.Command, c.dispatchUnits(), dispatch.Options{
		PriorityIndex: int(c.params.Number(params.KeyPriorityBattery, 1)),
		IdleHold:      idleHold(c.params.Number(params.KeyIdleMinutes, 0)),
	})
	ev.Outcome = metrics.OutcomeDispatched
	if ev.Dispatch.Held {
		ev.Outcome = metrics.OutcomeHeld
	}
	c.log.Debugf("cycle %s: %s grid=%.0fW soc=%.1f%% -> %s", ev.CycleID, ev.Strategy, grid, in.AvgSoC, ev.Command)
	return ev, nil
}

// maxIdleHold bounds the idle hold so the duration cannot overflow.
const maxIdleHold = 7 * 24 * time.Hour

// idleHold converts the configured minutes into a duration. Non-positive and
// NaN values disable the hold; larger values saturate at maxIdleHold.
func idleHold(minutes float64) time.Duration {
	if math.IsNaN(minutes) || minutes <= 0 {
		return 0
	}
	if minutes >= maxIdleHold.Minutes() {
		return maxIdleHold
	}
	return time.Duration(minutes * float64(time.Minute))
}

// applyLimits refreshes the cached limits of every unit from the provider.
// Absent settings keep the current value.
func (c *Controller) applyLimits() {
	for i, u := range c.units {
		n := i + 1
		cur := u.Limits()
		u.Configure(battery.Limits{
			MaxChargeW:      model.ClampPower(c.params.Number(params.UnitKey(n, params.UnitMaxCharge), float64(cur.MaxChargeW))),
			MaxDischargeW:   model.ClampPower(c.params.Number(params.UnitKey(n, params.UnitMaxDischarge), float64(cur.MaxDischargeW))),
			ChargeCutoff:    c.params.Number(params.UnitKey(n, params.UnitChargeCutoff), cur.ChargeCutoff),
			DischargeCutoff: c.params.Number(params.UnitKey(n, params.UnitDischargeCutoff), cur.DischargeCutoff),
		})
	}
}

// release hands the units back to the inverter firmware.
func (c *Controller) release(mode model.MasterMode) {
	for _, u := range c.units {
		if err := u.SetRemoteControl(false); err != nil {
			c.log.Warnf("release %s: %v", u.Name(), err)
		}
		if mode == model.MasterManual {
			if err := u.SetWorkMode(manualWorkMode); err != nil {
				c.log.Warnf("work mode %s: %v", u.Name(), err)
			}
		}
	}
}

// aggregate sums the known energies and averages the known states of charge.
func (c *Controller) aggregate(grid float64) command.Inputs {
	energies := make([]float64, 0, len(c.units))
	socs := make([]float64, 0, len(c.units))
	for _, u := range c.units {
		if e, ok := u.TotalEnergyKWh(); ok {
			energies = append(energies, e)
		}
		if s, ok := u.SoC(); ok {
			socs = append(socs, s)
		}
	}
	in := command.Inputs{GridPowerW: grid, TotalEnergyKWh: floats.Sum(energies)}
	if len(socs) > 0 {
		in.AvgSoC = stat.Mean(socs, nil)
	}
	return in
}

func (c *Controller) dispatchUnits() []dispatch.Unit {
	out := make([]dispatch.Unit, len(c.units))
	for i, u := range c.units {
		out[i] = u
	}
	return out
}

func (c *Controller) publish(ev eventbus.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}
