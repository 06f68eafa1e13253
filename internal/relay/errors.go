package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable marks a rejected or timed-out upstream handshake, or a lost upstream stream.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNoActiveSession marks a client message that arrived in a state that cannot accept it.
	ErrNoActiveSession = errors.New("no active session")
	// ErrTransportFault marks a dropped client connection.
	ErrTransportFault = errors.New("client transport closed")
	// ErrSessionClosed marks a message received after the session reached its terminal state.
	ErrSessionClosed = errors.New("session closed")
	// ErrBadRequest marks a frame that could not be decoded into a known message.
	ErrBadRequest = errors.New("bad request")
)

// Error pairs a taxonomy sentinel with a human readable reason for the client.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Code maps an error onto the stable code sent in client error frames.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrTransportFault):
		return "transport_fault"
	default:
		return "upstream_error"
	}
}
