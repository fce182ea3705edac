package lobby

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")
var ErrForbidden = errors.New("forbidden")
var ErrConflict = errors.New("conflict")
var ErrNotReady = errors.New("not ready")
var ErrUnauthorized = errors.New("unauthorized")
var ErrInvalidHost = errors.New("invalid host")
var ErrExhaustedIDSpace = errors.New("exhausted id space")

// Conflict variants. Join must tell "already in this lobby" apart from
// "already in a different one".
var ErrClosed = fmt.Errorf("%w: lobby not open", ErrConflict)
var ErrFull = fmt.Errorf("%w: lobby full", ErrConflict)
var ErrAlreadyMember = fmt.Errorf("%w: already a member of this lobby", ErrConflict)
var ErrInAnotherLobby = fmt.Errorf("%w: already in another lobby", ErrConflict)

var ErrNotAMember = fmt.Errorf("%w: not a lobby member", ErrForbidden)

// Code maps an error to its wire taxonomy tag, echoed back to clients
// in error events and used by the HTTP layer for status mapping.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrNotReady):
		return "NotReady"
	case errors.Is(err, ErrExhaustedIDSpace):
		return "ExhaustedIdSpace"
	case errors.Is(err, ErrInvalidHost):
		return "InvalidHost"
	default:
		return "Internal"
	}
}
