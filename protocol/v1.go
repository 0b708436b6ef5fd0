package protocol

// v1Adapter speaks the flat encoding of /telemetry/v1/stream and the legacy
// /stream path: arguments sit beside the command.
type v1Adapter struct {
	base
}

type v1Command struct {
	Command   string `json:"command"`
	Service   string `json:"service,omitempty"`
	Metric    string `json:"metric,omitempty"`
	Statistic string `json:"statistic,omitempty"`
}

func (a *v1Adapter) Version() Version { return V1 }

func (a *v1Adapter) SubscribeToMetric(spec MetricSpec) {
	a.send(v1Command{Command: CmdSubscribe, Service: spec.Service, Metric: spec.Metric, Statistic: spec.Statistic})
}

func (a *v1Adapter) UnsubscribeFromMetric(spec MetricSpec) {
	a.send(v1Command{Command: CmdUnsubscribe, Service: spec.Service, Metric: spec.Metric, Statistic: spec.Statistic})
}

func (a *v1Adapter) ConnectionInitialized() {
	a.send(v1Command{Command: CmdGetMetrics})
}

func (a *v1Adapter) Heartbeat() {
	a.send(v1Command{Command: CmdHeartbeat})
}

// ProcessMessage decodes a frame. V1 acknowledges heartbeats with {"response":"ok"}.
func (a *v1Adapter) ProcessMessage(raw []byte) (Event, error) {
	env, ev, ok, err := a.decode(raw)
	if err != nil || ok {
		return ev, err
	}
	if env.Command == "" && env.Response == "ok" {
		return HeartbeatAck{}, nil
	}
	return unrecognized(raw), nil
}
