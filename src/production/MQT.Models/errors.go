package mqtmodels

import "errors"

// Error taxonomy shared by the pipeline. Callers match with errors.Is.
var (
	// ErrAuth is connection-fatal: one error frame, then the socket closes
	ErrAuth = errors.New("authentication failed")
	// ErrValidation is answered with an error frame, the socket stays open
	ErrValidation = errors.New("validation failed")
	// ErrTransientIO means the side effect was dropped and the process continues
	ErrTransientIO = errors.New("transient io failure")
	// ErrStartup aborts process start
	ErrStartup = errors.New("startup failure")
)

// AuthError carries the message shown to the viewer before the socket closes
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() []error { return []error{ErrAuth, e.Err} }

// ValidationError carries the message shown to the viewer
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError is a shorthand used by decoders
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}
