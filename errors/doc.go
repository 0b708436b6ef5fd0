// Package errors provides standardized error handling patterns for streamview components.
//
// # Overview
//
// Errors are classified into three classes: Transient (temporary, retryable),
// Invalid (bad input, non-retryable) and Fatal (unrecoverable, stop processing).
// The live telemetry path never produces Fatal errors: transport failures are
// recovered by the connection engine and bad frames or samples are logged and
// dropped. Fatal is reserved for startup problems such as invalid configuration.
//
// # Domain Errors
//
//   - ErrEndpointExhausted: every candidate endpoint failed in one cycle; triggers backoff
//   - ErrConnectionTimeout: no heartbeat acknowledgment within the connection timeout
//   - ErrMalformedMessage: an inbound frame could not be decoded
//   - ErrOutOfOrderSample: a sample older than the newest stored timestamp
//   - ErrUnknownStatistic: a statistic without a known merge policy (falls back to max)
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Engine", "dial", "open socket")
//	errors.WrapInvalid(err, "V1Adapter", "ProcessMessage", "decode frame")
//	errors.WrapFatal(err, "Loader", "Load", "read config")
//
// The generic Wrap() function preserves the original error's classification.
//
// Classification survives wrapping and works with errors.Is/errors.As:
//
//	wrapped := errors.Wrap(errors.ErrConnectionTimeout, "Engine", "onTimeout", "await heartbeat")
//	errors.IsTransient(wrapped) // true
package errors
