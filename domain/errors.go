package domain

import "errors"

// Turn-level error taxonomy. Stages wrap these with fmt.Errorf("...: %w", err)
// and the session coordinator inspects them with errors.Is.
var (
	// ErrBackendUnavailable means the transcription or response backend
	// failed or timed out. It ends the current turn only.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNoResponderRegistered means not even the default responder is
	// configured. It is fatal at startup.
	ErrNoResponderRegistered = errors.New("no responder registered")

	// ErrMalformedInput means the client sent audio or control messages out
	// of protocol order.
	ErrMalformedInput = errors.New("malformed input")

	// ErrTransportClosed means the client disconnected.
	ErrTransportClosed = errors.New("transport closed")
)
