package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a structural problem in a compose document.
type ErrorKind string

// Configuration error kinds. All of them are raised before any side effect.
const (
	UnknownTemplate    ErrorKind = "UnknownTemplate"
	ConflictingBase    ErrorKind = "ConflictingBase"
	UnknownInclude     ErrorKind = "UnknownInclude"
	CircularDependency ErrorKind = "CircularDependency"
	DuplicateName      ErrorKind = "DuplicateName"
	UnknownDependency  ErrorKind = "UnknownDependency"
	InvalidField       ErrorKind = "InvalidField"
)

// ConfigError reports a structural validation failure and names the
// offending container and field.
type ConfigError struct {
	Kind      ErrorKind
	Container string
	Field     string
	Detail    string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Container != "" {
		fmt.Fprintf(&b, ": container %q", e.Container)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Is matches another *ConfigError with the same Kind, so callers can write
// errors.Is(err, &ConfigError{Kind: CircularDependency}).
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	return ok && t.Kind == e.Kind
}

// IsKind reports whether err contains a ConfigError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return errors.Is(err, &ConfigError{Kind: kind})
}

func newError(kind ErrorKind, container, field, format string, args ...any) *ConfigError {
	return &ConfigError{
		Kind:      kind,
		Container: container,
		Field:     field,
		Detail:    fmt.Sprintf(format, args...),
	}
}
