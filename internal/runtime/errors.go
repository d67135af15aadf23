package runtime

import "errors"

var (
	// ErrSessionClosed reports that the session ended while a call was in
	// flight or before it was issued.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEngineShutdown reports that the engine no longer accepts sessions.
	ErrEngineShutdown = errors.New("engine is shut down")
)
