package contract

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrImmutableSession  = errors.New("session is signed and immutable")
	ErrAlreadyExists     = errors.New("session already exists")
	ErrDeliveryFailure   = errors.New("delivery failure")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPolicyRejected    = errors.New("approval policy rejected")
)

// Code maps an error onto the stable machine-readable code sent to devices.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, ErrAccessDenied):
		return "ACCESS_DENIED"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrImmutableSession):
		return "IMMUTABLE_SESSION"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrPolicyRejected):
		return "POLICY_REJECTED"
	case errors.Is(err, ErrDeliveryFailure):
		return "DELIVERY_FAILURE"
	default:
		return "INTERNAL"
	}
}
