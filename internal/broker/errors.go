package broker

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks a delivery rejected before any state was touched.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound reports an absent token. Absence covers not-yet-delivered,
	// already consumed and expired alike.
	ErrNotFound = errors.New("token not found or already consumed")
)

// ValidationError lists the delivery fields that were missing or malformed.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "token and cookies required"
	}
	return strings.Join(e.Fields, " and ") + " required"
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
