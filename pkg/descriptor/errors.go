package descriptor

import (
	"errors"
	"fmt"
)

// Reason classifies a ConfigError.
type Reason string

const (
	ReasonMissing Reason = "missing"
	ReasonInvalid Reason = "invalid"
)

var (
	// ErrMissingField matches any ConfigError caused by an absent key.
	ErrMissingField = errors.New("missing descriptor field")
	// ErrInvalidField matches any ConfigError caused by an unusable value.
	ErrInvalidField = errors.New("invalid descriptor field")
)

// ConfigError reports a descriptor that cannot be used. It is raised before
// any process or session is created and is never retried.
type ConfigError struct {
	Category Category
	Key      string
	Driver   string // driver that asked for the key; empty for generic lookups
	Reason   Reason
	Detail   string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Reason == ReasonMissing && e.Driver != "":
		return fmt.Sprintf("config: missing key %q (%s) for driver %s", e.Key, e.Category, e.Driver)
	case e.Reason == ReasonMissing:
		return fmt.Sprintf("config: missing key %q (%s)", e.Key, e.Category)
	case e.Key != "":
		return fmt.Sprintf("config: invalid key %q (%s): %s", e.Key, e.Category, e.Detail)
	default:
		return fmt.Sprintf("config: %s", e.Detail)
	}
}

// Is lets callers match on ErrMissingField / ErrInvalidField.
func (e *ConfigError) Is(target error) bool {
	switch target {
	case ErrMissingField:
		return e.Reason == ReasonMissing
	case ErrInvalidField:
		return e.Reason == ReasonInvalid
	}
	return false
}

// IsConfigError reports whether err is a configuration error: a wrapped
// ConfigError, or any error matching ErrMissingField or ErrInvalidField.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) || errors.Is(err, ErrMissingField) || errors.Is(err, ErrInvalidField)
}
