package calls

import "errors"

var (
	ErrForbidden         = errors.New("calls: forbidden")
	ErrNotFound          = errors.New("calls: not found")
	ErrAlreadyActive     = errors.New("calls: call already active")
	ErrInvalidTransition = errors.New("calls: invalid transition")
	ErrInfrastructure    = errors.New("calls: infrastructure failure")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
	ErrNoActiveCall      = errors.New("calls: no active call")
)

// Code returns the stable wire code for err, used in HTTP bodies and websocket error frames.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoActiveCall):
		return "not_found"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "infrastructure_failure"
	}
}
