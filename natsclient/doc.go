// Package natsclient wraps the NATS Go client with a circuit breaker,
// structured logging and status reporting.
//
// streamview uses NATS only as an optional sink: the relay in
// output/natsrelay republishes every telemetry report it sees so other
// services can consume the stream without opening their own aggregator
// connections.
//
// # Connection lifecycle
//
// A Client moves through Disconnected, Connecting, Connected and
// Reconnecting. Failed connects are counted; after the threshold
// (default 5) the circuit opens and Connect fails fast with ErrCircuitOpen
// until the backoff (1s, doubling up to WithMaxBackoff) elapses.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "streamview.telemetry.host.cpu.max", payload)
//
// Client implements health.Checker so it can be registered with a
// health.Monitor, and reports its status to the core NATS metrics when
// WithMetrics is given.
//
// # Testing
//
// NewTestClient starts a NATS server with testcontainers and returns a
// connected Client. Tests that use it carry the integration build tag.
package natsclient
