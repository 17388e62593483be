package dispatch

import (
	"time"

	"github.com/kilianp07/marstek/core/logger"
	"github.com/kilianp07/marstek/core/model"
)

// Unit is the view of a battery the engine needs.
type Unit interface {
	Name() string
	CanCharge() bool
	CanDischarge() bool
	MaxPower(mode model.Mode) uint16
	ApplyCommand(cmd model.Command) error
}

// Options are the per-call operator settings.
type Options struct {
	// PriorityIndex is the 1-based position of the unit that fills first.
	// Out of range values keep the configured order.
	PriorityIndex int
	// IdleHold is how long a stop is suppressed after the last active command.
	IdleHold time.Duration
}

// Assignment is the command delivered to one unit.
type Assignment struct {
	Unit    string
	Command model.Command
	// Reason is one of "assigned", "ineligible", "zero" or "redistributed".
	Reason string
}

// Result describes what one Dispatch call did.
type Result struct {
	Requested model.Command
	// Target is the requested power clamped to the fleet capacity.
	Target      uint32
	Capacity    uint32
	Held        bool
	Assignments []Assignment
	Errors      map[string]error
}

// PerUnit returns the last command delivered to each unit.
func (r Result) PerUnit() map[string]model.Command {
	out := make(map[string]model.Command, len(r.Assignments))
	for _, a := range r.Assignments {
		out[a.Unit] = a.Command
	}
	return out
}

// TotalW returns the power assigned across the fleet.
func (r Result) TotalW() uint32 {
	var sum uint32
	for _, c := range r.PerUnit() {
		sum += uint32(c.PowerW)
	}
	return sum
}

// Engine splits an aggregate command across units. It keeps the time of the
// last active command for the idle hold and must not be shared between
// concurrent callers.
type Engine struct {
	log        logger.Logger
	now        func() time.Time
	lastActive time.Time
}

// NewEngine returns an engine using the wall clock.
func NewEngine(log logger.Logger) *Engine {
	return NewEngineWithClock(log, time.Now)
}

// NewEngineWithClock returns an engine reading time from now.
func NewEngineWithClock(log logger.Logger, now func() time.Time) *Engine {
	if log == nil {
		log = logger.NopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{log: log, now: now}
}

// Dispatch delivers cmd to units. A failing unit does not stop delivery to
// the others and its share is not redistributed.
func (e *Engine) Dispatch(cmd model.Command, units []Unit, opts Options) Result {
	res := Result{Requested: cmd, Errors: map[string]error{}}
	if cmd.Mode == model.ModeStop {
		cmd.PowerW = 0
	}
	if len(units) == 0 {
		return res
	}
	now := e.now()
	if cmd.IsIdle() {
		if opts.IdleHold > 0 && !e.lastActive.IsZero() && now.Sub(e.lastActive) < opts.IdleHold {
			e.log.Debugf("dispatch: holding last state, active %s ago", now.Sub(e.lastActive).Round(time.Second))
			idleHolds.Inc()
			res.Held = true
			return res
		}
	} else {
		e.lastActive = now
	}

	start := time.Now()
	defer func() {
		dispatchLatency.WithLabelValues(cmd.Mode.String()).Observe(time.Since(start).Seconds())
	}()

	for _, u := range units {
		res.Capacity += uint32(limitFor(u, cmd.Mode))
	}
	res.Target = uint32(cmd.PowerW)
	if res.Target > res.Capacity {
		res.Target = res.Capacity
	}

	ordered := rotate(units, opts.PriorityIndex)
	assigned := make(map[string]uint16, len(ordered))
	apply := func(u Unit, c model.Command, reason string) {
		res.Assignments = append(res.Assignments, Assignment{Unit: u.Name(), Command: c, Reason: reason})
		unitsDispatched.WithLabelValues(c.Mode.String()).Inc()
		if err := u.ApplyCommand(c); err != nil {
			e.log.Warnf("dispatch: %s %s: %v", u.Name(), c, err)
			unitFailures.WithLabelValues(u.Name()).Inc()
			res.Errors[u.Name()] = err
		}
	}

	remaining := res.Target
	for _, u := range ordered {
		if !eligible(u, cmd.Mode) {
			apply(u, model.Stop, "ineligible")
			continue
		}
		give := min32(remaining, uint32(limitFor(u, cmd.Mode)))
		if give == 0 {
			apply(u, model.Stop, "zero")
			continue
		}
		assigned[u.Name()] = uint16(give)
		apply(u, model.Command{Mode: cmd.Mode, PowerW: uint16(give)}, "assigned")
		remaining -= give
		if remaining == 0 {
			break
		}
	}

	// Eligibility is not re-checked here. Remaining power is only left over
	// once every eligible unit sits at its limit.
	if remaining > 0 {
		for _, u := range ordered {
			if remaining == 0 {
				break
			}
			headroom := uint32(limitFor(u, cmd.Mode)) - uint32(assigned[u.Name()])
			give := min32(remaining, headroom)
			if give == 0 {
				continue
			}
			total := assigned[u.Name()] + uint16(give)
			assigned[u.Name()] = total
			apply(u, model.Command{Mode: cmd.Mode, PowerW: total}, "redistributed")
			remaining -= give
		}
	}
	return res
}

func limitFor(u Unit, mode model.Mode) uint16 {
	if mode == model.ModeCharge {
		return u.MaxPower(model.ModeCharge)
	}
	return u.MaxPower(model.ModeDischarge)
}

func eligible(u Unit, mode model.Mode) bool {
	switch mode {
	case model.ModeCharge:
		return u.CanCharge()
	case model.ModeDischarge:
		return u.CanDischarge()
	default:
		return true
	}
}

func rotate(units []Unit, priority int) []Unit {
	out := make([]Unit, 0, len(units))
	if priority < 1 || priority > len(units) {
		return append(out, units...)
	}
	out = append(out, units[priority-1:]...)
	return append(out, units[:priority-1]...)
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
