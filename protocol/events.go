package protocol

import (
	"encoding/json"
)

// Event is one decoded inbound frame: MetricCatalog, NewMetric, DataReport,
// HeartbeatAck or Unrecognized.
type Event interface {
	eventKind() string
}

// StatisticNode is a leaf of the metric catalog.
type StatisticNode struct {
	Name string `json:"name"`
}

// MetricNode lists the statistics available for a metric.
type MetricNode struct {
	Name     string          `json:"name"`
	Children []StatisticNode `json:"children"`
}

// ServiceNode lists the metrics published by a service.
type ServiceNode struct {
	Name     string       `json:"name"`
	Children []MetricNode `json:"children"`
}

// MetricCatalog is the full catalog sent in reply to getMetrics.
type MetricCatalog struct {
	Services []ServiceNode
}

// NewMetric announces a single series that appeared after the catalog was sent.
type NewMetric struct {
	Spec MetricSpec
}

// Report is one data point for a subscribed series. Server is the host that
// produced the value as reported by the aggregator, which is not necessarily
// the connection it arrived on.
type Report struct {
	MetricSpec
	Server    string  `json:"server"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"data"`
}

// DataReport carries a Report.
type DataReport struct {
	Report Report
}

// HeartbeatAck acknowledges a heartbeat.
type HeartbeatAck struct{}

// Unrecognized is a well-formed frame of unknown shape.
type Unrecognized struct {
	Raw json.RawMessage
}

func (MetricCatalog) eventKind() string { return "metricsList" }
func (NewMetric) eventKind() string     { return "newMetric" }
func (DataReport) eventKind() string    { return "report" }
func (HeartbeatAck) eventKind() string  { return "heartbeat" }
func (Unrecognized) eventKind() string  { return "unrecognized" }

// Kind returns a short label for logs and metrics.
func Kind(e Event) string {
	if e == nil {
		return "none"
	}
	return e.eventKind()
}

// MetricSink consumes decoded catalog and data events for one connection.
type MetricSink interface {
	MetricsList(server string, services []ServiceNode)
	NewMetric(server string, spec MetricSpec)
	Report(server string, report Report)
}

// Dispatch delivers e to sink. Heartbeat acks and unrecognized frames are
// not sink events and are ignored. It reports whether e was delivered.
func Dispatch(sink MetricSink, server string, e Event) bool {
	if sink == nil {
		return false
	}
	switch ev := e.(type) {
	case MetricCatalog:
		sink.MetricsList(server, ev.Services)
	case NewMetric:
		sink.NewMetric(server, ev.Spec)
	case DataReport:
		sink.Report(server, ev.Report)
	default:
		return false
	}
	return true
}
