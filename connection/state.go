package connection

// State is the engine's position in the connection lifecycle.
type State int

// Connection states. The numeric values are exported as the
// streamview_connection_state gauge.
const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Active reports whether a socket is live or being established.
func (s State) Active() bool {
	return s == Connecting || s == Connected || s == Reconnecting
}
