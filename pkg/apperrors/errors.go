package apperrors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrMethodNotAllowed    = errors.New("method not allowed for this resource")
	ErrNoMatchingStatement = errors.New("no statement matches the supplied parameters")
	ErrInjectionDetected   = errors.New("parameter value rejected by injection screening")
	ErrPushNotEnabled      = errors.New("live push is not enabled for this resource")
	ErrJobStopped          = errors.New("poll job stopped")
	ErrSessionClosed       = errors.New("session closed")
	ErrResourceInvalid     = errors.New("resource has no usable statements")
)
