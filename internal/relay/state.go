package relay

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateSpeaking
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Active reports whether an upstream session is open.
func (s State) Active() bool {
	return s == StateListening || s == StateSpeaking
}

// Terminating reports whether the session is ending or closed.
func (s State) Terminating() bool {
	return s == StateEnding || s == StateClosed
}
