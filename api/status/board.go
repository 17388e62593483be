// Package status keeps the latest fleet state for the HTTP API.
package status

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	coremetrics "github.com/kilianp07/marstek/core/metrics"
)

// Unit is the JSON view of one battery. Unknown measurements are null.
type Unit struct {
	Name          string    `json:"name"`
	PowerW        *float64  `json:"power_w"`
	SoC           *float64  `json:"soc"`
	EnergyKWh     *float64  `json:"energy_kwh"`
	ACPowerW      *float64  `json:"ac_power_w"`
	RemoteControl bool      `json:"remote_control"`
	Command       string    `json:"command"`
	MaxChargeW    uint16    `json:"max_charge_w"`
	MaxDischargeW uint16    `json:"max_discharge_w"`
	Updated       time.Time `json:"updated"`
}

// Cycle is the JSON view of the last control cycle.
type Cycle struct {
	ID         string            `json:"id"`
	MasterMode string            `json:"master_mode"`
	Strategy   string            `json:"strategy"`
	Command    string            `json:"command"`
	GridPowerW *float64          `json:"grid_power_w"`
	AvgSoC     *float64          `json:"avg_soc"`
	Outcome    string            `json:"outcome"`
	Assigned   map[string]string `json:"assigned"`
	Errors     map[string]string `json:"errors,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	Time       time.Time         `json:"time"`
}

// Snapshot is the document served by the handler.
type Snapshot struct {
	Units []Unit `json:"units"`
	Cycle *Cycle `json:"cycle"`
}

// Board is a metrics sink remembering the latest state of every unit and
// the last cycle.
type Board struct {
	mu    sync.RWMutex
	units map[string]Unit
	cycle *Cycle
}

var _ coremetrics.MetricsSink = (*Board)(nil)

func NewBoard() *Board {
	return &Board{units: make(map[string]Unit)}
}

func (b *Board) RecordUnitState(ev coremetrics.UnitStateEvent) error {
	u := Unit{
		Name:          ev.Unit,
		PowerW:        known(ev.PowerW),
		SoC:           known(ev.SoC),
		EnergyKWh:     known(ev.EnergyKWh),
		ACPowerW:      known(ev.ACPowerW),
		RemoteControl: ev.RemoteControl,
		Command:       ev.Command.String(),
		MaxChargeW:    ev.MaxChargeW,
		MaxDischargeW: ev.MaxDischargeW,
		Updated:       ev.Time,
	}
	b.mu.Lock()
	b.units[ev.Unit] = u
	b.mu.Unlock()
	return nil
}

func (b *Board) RecordCycle(ev coremetrics.CycleEvent) error {
	c := &Cycle{
		ID:         ev.CycleID,
		MasterMode: ev.MasterMode.String(),
		Strategy:   ev.Strategy.String(),
		Command:    ev.Command.String(),
		GridPowerW: known(ev.GridPowerW),
		AvgSoC:     known(ev.AvgSoC),
		Outcome:    ev.Outcome,
		Assigned:   make(map[string]string, len(ev.Assignments)),
		DurationMS: ev.Duration.Milliseconds(),
		Time:       ev.Time,
	}
	for _, a := range ev.Assignments {
		c.Assigned[a.Unit] = a.Command.String()
		if a.Error != "" {
			if c.Errors == nil {
				c.Errors = make(map[string]string)
			}
			c.Errors[a.Unit] = a.Error
		}
	}
	b.mu.Lock()
	b.cycle = c
	b.mu.Unlock()
	return nil
}

// Snapshot returns the units sorted by name and the last cycle.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := Snapshot{Units: make([]Unit, 0, len(b.units)), Cycle: b.cycle}
	for _, u := range b.units {
		out.Units = append(out.Units, u)
	}
	sort.Slice(out.Units, func(i, j int) bool { return out.Units[i].Name < out.Units[j].Name })
	return out
}

// ServeHTTP answers GET /api/status with the snapshot.
func (b *Board) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(b.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func known(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
