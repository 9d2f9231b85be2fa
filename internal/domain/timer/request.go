package timer

import "fmt"

// RequestKind is the kind of a remote control request.
type RequestKind string

const (
	// RequestStop asks to stop (complete) the timer, e.g. after its alert was dismissed.
	RequestStop RequestKind = "stop"
	// RequestCancel asks to cancel the timer.
	RequestCancel RequestKind = "cancel"
)

// ParseRequestKind converts a string into a RequestKind.
func ParseRequestKind(s string) (RequestKind, error) {
	switch kind := RequestKind(s); kind {
	case RequestStop, RequestCancel:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown request kind %q", s)
	}
}

// Request is a message from a remote control surface targeting one timer.
type Request struct {
	Kind    RequestKind
	TimerID string
}
