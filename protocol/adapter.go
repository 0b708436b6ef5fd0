// Package protocol implements the versioned telemetry wire protocol: the
// MetricSpec identity, the decoded event family, and V1/V2 adapters that
// encode outbound commands and decode inbound frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/pkg/timestamp"
)

// Command names shared by both versions.
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdGetMetrics  = "getMetrics"
	CmdHeartbeat   = "heartbeat"
	CmdMetricsList = "metricsList"
	CmdNewMetric   = "newMetric"
	CmdReport      = "report"
)

// Sender writes one text frame to the current socket. Implementations drop
// the frame silently when no socket is open.
type Sender interface {
	Send(payload []byte)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(payload []byte)

// Send calls f(payload).
func (f SenderFunc) Send(payload []byte) { f(payload) }

// Adapter is the capability set bound to one connection attempt. Outbound
// operations are fire-and-forget.
type Adapter interface {
	Version() Version
	SubscribeToMetric(spec MetricSpec)
	UnsubscribeFromMetric(spec MetricSpec)
	// ConnectionInitialized requests the metric catalog. Called once per
	// successful connection.
	ConnectionInitialized()
	Heartbeat()
	// ProcessMessage decodes one inbound frame. Frames that are not JSON
	// objects yield ErrMalformedMessage; unknown shapes yield Unrecognized.
	ProcessMessage(raw []byte) (Event, error)
}

// NewAdapter returns the adapter for v. Unknown versions fall back to V1,
// the encoding understood by every aggregator release.
func NewAdapter(v Version, sender Sender, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	b := base{sender: sender, logger: logger.With("protocol", v.String())}
	if v == V2 {
		return &v2Adapter{base: b}
	}
	return &v1Adapter{base: b}
}

// base holds what both versions share: the sender and inbound decoding.
type base struct {
	sender Sender
	logger *slog.Logger
}

func (b *base) send(command any) {
	payload, err := json.Marshal(command)
	if err != nil {
		b.logger.Error("Failed to encode command", "error", err)
		return
	}
	if b.sender != nil {
		b.sender.Send(payload)
	}
}

// envelope is the common inbound frame shape.
type envelope struct {
	Command  string          `json:"command"`
	Response string          `json:"response"`
	Data     json.RawMessage `json:"data"`
}

type wireReport struct {
	Service   string   `json:"service"`
	Metric    string   `json:"metric"`
	Statistic string   `json:"statistic"`
	Server    string   `json:"server"`
	Timestamp *float64 `json:"timestamp"`
	Data      *float64 `json:"data"`
}

type wireCatalog struct {
	Metrics []ServiceNode `json:"metrics"`
}

func malformed(op string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err), "Adapter", op, "decode frame")
}

// decode parses a frame and handles every command both versions share.
// ok is false when the envelope matched no shared command, leaving the
// caller to apply version-specific heartbeat rules.
func (b *base) decode(raw []byte) (env envelope, ev Event, ok bool, err error) {
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, nil, false, malformed("ProcessMessage", err)
	}

	switch env.Command {
	case CmdMetricsList:
		var c wireCatalog
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return env, nil, false, malformed("metricsList", err)
		}
		return env, MetricCatalog{Services: c.Metrics}, true, nil

	case CmdNewMetric:
		var spec MetricSpec
		if err := json.Unmarshal(env.Data, &spec); err != nil {
			return env, nil, false, malformed("newMetric", err)
		}
		return env, NewMetric{Spec: spec}, true, nil

	case CmdReport:
		r, err := decodeReport(env.Data)
		if err != nil {
			return env, nil, false, err
		}
		return env, DataReport{Report: r}, true, nil
	}

	return env, nil, false, nil
}

func decodeReport(data json.RawMessage) (Report, error) {
	var w wireReport
	if err := json.Unmarshal(data, &w); err != nil {
		return Report{}, malformed("report", err)
	}
	if w.Timestamp == nil || w.Data == nil {
		return Report{}, malformed("report", fmt.Errorf("missing timestamp or data"))
	}
	ts, err := timestamp.FromFloat(*w.Timestamp)
	if err != nil {
		return Report{}, malformed("report", err)
	}
	return Report{
		MetricSpec: MetricSpec{Service: w.Service, Metric: w.Metric, Statistic: w.Statistic},
		Server:     w.Server,
		Timestamp:  ts,
		Value:      *w.Data,
	}, nil
}

func unrecognized(raw []byte) Event {
	return Unrecognized{Raw: append(json.RawMessage(nil), raw...)}
}
