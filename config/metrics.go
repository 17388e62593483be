package config

import "github.com/kilianp07/marstek/core/factory"

// MetricsConfig selects the metrics sinks. PrometheusAddr, when set, starts
// the HTTP endpoint serving /metrics, /healthz, /api/status and /api/params.
// APIToken, when set, is required as a bearer token on /api/params.
type MetricsConfig struct {
	Sinks          []factory.ModuleConfig `json:"sinks"`
	PrometheusAddr string                 `json:"prometheus_addr"`
	APIToken       string                 `json:"api_token"`
}
