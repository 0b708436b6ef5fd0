package protocol

// v2Adapter speaks /telemetry/v2/stream, where command arguments are nested
// under "data".
type v2Adapter struct {
	base
}

type v2Command struct {
	Command string      `json:"command"`
	Data    *MetricSpec `json:"data,omitempty"`
}

func (a *v2Adapter) Version() Version { return V2 }

func (a *v2Adapter) SubscribeToMetric(spec MetricSpec) {
	a.send(v2Command{Command: CmdSubscribe, Data: &spec})
}

func (a *v2Adapter) UnsubscribeFromMetric(spec MetricSpec) {
	a.send(v2Command{Command: CmdUnsubscribe, Data: &spec})
}

func (a *v2Adapter) ConnectionInitialized() {
	a.send(v2Command{Command: CmdGetMetrics})
}

func (a *v2Adapter) Heartbeat() {
	a.send(v2Command{Command: CmdHeartbeat})
}

// ProcessMessage decodes a frame. V2 servers echo {"command":"heartbeat"};
// the V1 {"response":"ok"} form is accepted as well.
func (a *v2Adapter) ProcessMessage(raw []byte) (Event, error) {
	env, ev, ok, err := a.decode(raw)
	if err != nil || ok {
		return ev, err
	}
	if env.Command == CmdHeartbeat || (env.Command == "" && env.Response == "ok") {
		return HeartbeatAck{}, nil
	}
	return unrecognized(raw), nil
}
