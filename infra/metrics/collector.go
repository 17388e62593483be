package metrics

import (
	"context"

	"github.com/kilianp07/marstek/core/events"
	coremetrics "github.com/kilianp07/marstek/core/metrics"
	"github.com/kilianp07/marstek/infra/logger"
	"github.com/kilianp07/marstek/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records controller
// events on sink. It stops when the context is canceled or the bus closes;
// done is closed once the goroutine has exited.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) (done <-chan struct{}) {
	ch := make(chan struct{})
	if bus == nil || sink == nil {
		close(ch)
		return ch
	}
	log := logger.New("event-collector")
	sub := bus.Subscribe()
	go func() {
		defer close(ch)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				var err error
				switch e := ev.(type) {
				case events.UnitRefreshed:
					err = sink.RecordUnitState(UnitState(e))
				case events.CycleCompleted:
					err = sink.RecordCycle(Cycle(e))
				}
				if err != nil {
					log.Warnf("record %T: %v", ev, err)
				}
			}
		}
	}()
	return ch
}

// UnitState converts a refresh event into its metrics record.
func UnitState(e events.UnitRefreshed) coremetrics.UnitStateEvent {
	s := e.Snapshot
	return coremetrics.UnitStateEvent{
		CycleID:       e.CycleID,
		Unit:          s.Name,
		PowerW:        s.PowerW,
		SoC:           s.SoC,
		EnergyKWh:     s.EnergyKWh,
		ACPowerW:      s.ACPowerW,
		RemoteControl: s.RemoteControl,
		Command:       s.Last,
		MaxChargeW:    s.Limits.MaxChargeW,
		MaxDischargeW: s.Limits.MaxDischargeW,
		Time:          e.Time,
	}
}

// Cycle converts a cycle event into its metrics record.
func Cycle(e events.CycleCompleted) coremetrics.CycleEvent {
	out := coremetrics.CycleEvent{
		CycleID:        e.CycleID,
		MasterMode:     e.MasterMode,
		Strategy:       e.Strategy,
		Command:        e.Command,
		GridPowerW:     e.GridPowerW,
		TotalEnergyKWh: e.TotalEnergyKWh,
		AvgSoC:         e.AvgSoC,
		Outcome:        e.Outcome,
		Duration:       e.Duration,
		Time:           e.Started,
	}
	for _, a := range e.Dispatch.Assignments {
		ua := coremetrics.UnitAssignment{Unit: a.Unit, Command: a.Command, Reason: a.Reason}
		if err := e.Dispatch.Errors[a.Unit]; err != nil {
			ua.Error = err.Error()
		}
		out.Assignments = append(out.Assignments, ua)
	}
	return out
}
