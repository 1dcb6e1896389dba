package accounts

import (
	"errors"
	"strings"
)

var (
	ErrAlreadyExists      = errors.New("account already exists")
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrValidation         = errors.New("validation failed")
	ErrStoreUnavailable   = errors.New("account store unavailable")
	ErrTimeout            = errors.New("account store timed out")
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// ValidationError lists every rejected field. errors.Is(err, ErrValidation) holds.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(names, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
