package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kilianp07/marstek/api/params"
	"github.com/kilianp07/marstek/api/status"
	"github.com/kilianp07/marstek/config"
	"github.com/kilianp07/marstek/core/battery"
	"github.com/kilianp07/marstek/core/controller"
	coremetrics "github.com/kilianp07/marstek/core/metrics"
	"github.com/kilianp07/marstek/core/modbus"
	coreparams "github.com/kilianp07/marstek/core/params"
	"github.com/kilianp07/marstek/infra/logger"
	"github.com/kilianp07/marstek/infra/metrics"
	"github.com/kilianp07/marstek/infra/mqtt"
	"github.com/kilianp07/marstek/internal/eventbus"
)

// Service wires the battery fleet, the controller and the outer surfaces.
type Service struct {
	Controller *controller.Controller
	Store      *coreparams.Store
	Board      *status.Board

	cfg     *config.Config
	clients []*modbus.Client
	bus     eventbus.EventBus
	sink    coremetrics.MetricsSink
	mqtt    *mqtt.PahoClient
	log     logger.Logger
}

// New creates a Service from the configuration. The MQTT connection, when
// enabled, is established before New returns.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := logger.Configure(cfg.Logging.Options()); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logg := logger.New("service")

	store := coreparams.NewStore()
	if skipped := cfg.ApplyParameters(store); len(skipped) > 0 {
		logg.Warnf("ignoring parameters with unsupported values: %v", skipped)
	}

	svc := &Service{Store: store, Board: status.NewBoard(), cfg: cfg, log: logg}
	units := make([]*battery.Unit, 0, len(cfg.Modbus.Units))
	for _, u := range cfg.Modbus.Units {
		cli, err := modbus.NewTCPClient(u.ClientConfig(), logger.New("modbus"))
		if err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}
		svc.clients = append(svc.clients, cli)
		unit, err := battery.NewUnit(u.Name, cli, logger.New("battery"))
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		units = append(units, unit)
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	if cfg.MQTT.Enabled {
		client, err := mqtt.NewPahoClient(ctx, cfg.MQTT)
		if err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		svc.mqtt = client
		sub, err := mqtt.NewParamSubscriber(client, store, client.Config().TopicPrefix)
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		if err := sub.Start(); err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("mqtt subscribe: %w", err)
		}
		if err := sub.PublishAll(); err != nil {
			logg.Warnf("publish parameters: %v", err)
		}
		pub, err := mqtt.NewStatePublisher(client, client.Config())
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		sink = coremetrics.NewMultiSink(sink, pub)
	}
	svc.sink = coremetrics.NewMultiSink(sink, svc.Board)

	svc.bus = eventbus.New()
	ctrl, err := controller.New(units, store, controller.Options{Bus: svc.bus, Logger: logger.New("controller")})
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Controller = ctrl
	return svc, nil
}

// Run ticks the controller every configured interval and blocks until the
// context is cancelled. A failed cycle is logged and the next one runs on
// schedule.
func (s *Service) Run(ctx context.Context) error {
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, s.Handler()); err != nil {
				s.log.Errorf("http server: %v", err)
			}
		}()
	}
	done := metrics.StartEventCollector(ctx, s.bus, s.sink)

	interval := s.cfg.Controller.Interval()
	s.log.Infof("controlling %d units every %s", len(s.Controller.Units()), interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			<-done
			return nil
		case <-ticker.C:
		}
	}
}

// Handler returns the HTTP routes: Prometheus metrics, health, fleet status
// and the parameter store.
func (s *Service) Handler() http.Handler {
	mux := metrics.NewPromHandler(nil)
	mux.Handle("/api/status", s.Board)
	mux.Handle("/api/params", params.NewHandler(s.Store, s.cfg.Metrics.APIToken))
	return mux
}

func (s *Service) tick(ctx context.Context) {
	ev, err := s.Controller.Tick(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Errorf("cycle %s: %v", ev.CycleID, err)
		}
		return
	}
	s.log.Debugw("cycle completed", map[string]any{
		"cycle_id": ev.CycleID,
		"strategy": ev.Strategy.String(),
		"command":  ev.Command.String(),
		"outcome":  ev.Outcome,
		"duration": ev.Duration.String(),
	})
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs error
	for _, c := range s.clients {
		errs = errors.Join(errs, c.Close())
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	return errs
}
