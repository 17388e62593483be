// Package metrics defines the records emitted by the controller and the sink
// interfaces that store them. Sinks like the Prometheus, InfluxDB and MQTT
// implementations in infra are built from configuration through the factory
// registry; several configured sinks are combined with NewMultiSink.
package metrics
