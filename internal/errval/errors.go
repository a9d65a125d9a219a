package errval

import (
	"errors"
)

var (
	ErrInternal          = errors.New("internal server error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("status conflict")
	ErrValidation        = errors.New("validation failed")
	ErrBrokerUnavailable = errors.New("broker unavailable")
)
