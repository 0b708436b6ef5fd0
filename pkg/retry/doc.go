// Package retry provides backoff math and a bounded retry helper.
//
// # Reconnect backoff
//
// Backoff computes a randomized, capped exponential delay. The connection
// engine uses ReconnectBackoff between full passes over its endpoint list:
//
//	b := retry.ReconnectBackoff()
//	delay := b.Delay(attempt, retry.Float64()) // min(60s, r * 1.5^attempt * 2s)
//
// The attempt count is unbounded; only the delay is capped.
//
// # Bounded retries
//
// Do runs an operation a fixed number of times with exponential backoff and
// optional jitter. It is used for startup-time dependencies such as the NATS
// connection behind the relay:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Wrap an error with NonRetryable to stop immediately. All functions respect
// context cancellation and are safe for concurrent use.
package retry
