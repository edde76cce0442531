package lifecycle

// State is the externally visible phase of a Controller.
type State int32

const (
	// Idle: no doctor id or disabled. No connection, no subscription.
	Idle State = iota
	// Connecting: connection requested, waiting for a ready session.
	Connecting
	// Subscribed: the doctor's topic is subscribed on a ready session.
	Subscribed
	// TearingDown: releasing the subscription and closing the connection.
	TearingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case TearingDown:
		return "tearing_down"
	default:
		return "unknown"
	}
}
