package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/marstek/core/metrics"
	"github.com/kilianp07/marstek/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes unit snapshots and control cycles to InfluxDB using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordUnitState writes a unit_state point. Unknown measurements are left
// out of the point.
func (s *InfluxSink) RecordUnitState(ev coremetrics.UnitStateEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("unit_state").
		AddTag("unit", ev.Unit).
		AddTag("mode", ev.Command.Mode.String())
	addKnown(p, "power_w", ev.PowerW)
	addKnown(p, "soc", ev.SoC)
	addKnown(p, "energy_kwh", ev.EnergyKWh)
	addKnown(p, "ac_power_w", ev.ACPowerW)
	p = p.AddField("remote_control", ev.RemoteControl).
		AddField("command_w", int64(ev.Command.PowerW)).
		SetTime(ev.Time)
	if ev.CycleID != "" {
		p.AddTag("cycle_id", ev.CycleID)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordCycle writes a control_cycle point and one dispatch_assignment point
// per unit command.
func (s *InfluxSink) RecordCycle(ev coremetrics.CycleEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := []*write.Point{
		write.NewPointWithMeasurement("control_cycle").
			AddTag("cycle_id", ev.CycleID).
			AddTag("outcome", ev.Outcome).
			AddTag("master_mode", ev.MasterMode.String()).
			AddTag("strategy", ev.Strategy.String()).
			AddTag("mode", ev.Command.Mode.String()).
			AddField("command_w", int64(ev.Command.PowerW)).
			AddField("grid_power_w", round3(ev.GridPowerW)).
			AddField("total_energy_kwh", round3(ev.TotalEnergyKWh)).
			AddField("avg_soc", round3(ev.AvgSoC)).
			AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
			SetTime(ev.Time),
	}
	for _, a := range ev.Assignments {
		p := write.NewPointWithMeasurement("dispatch_assignment").
			AddTag("cycle_id", ev.CycleID).
			AddTag("unit", a.Unit).
			AddTag("mode", a.Command.Mode.String()).
			AddTag("reason", a.Reason).
			AddField("power_w", int64(a.Command.PowerW)).
			SetTime(ev.Time)
		if a.Error != "" {
			p.AddField("error", a.Error)
		}
		points = append(points, p)
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func addKnown(p *write.Point, field string, v float64) {
	if !math.IsNaN(v) {
		p.AddField(field, round3(v))
	}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
