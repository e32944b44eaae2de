package lifecycle

import (
	"errors"
	"fmt"
)

// ProvisionKind classifies a provisioning failure.
type ProvisionKind string

const (
	CreateFailed     ProvisionKind = "CreateFailed"
	StartTimeout     ProvisionKind = "StartTimeout"
	DependencyFailed ProvisionKind = "DependencyFailed"
)

// ProvisionError is fatal for one container and everything depending on it.
type ProvisionError struct {
	Kind      ProvisionKind
	Container string
	Err       error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s: container %q: %v", e.Kind, e.Container, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// Is matches a *ProvisionError with the same Kind and, when the target
// names one, the same container.
func (e *ProvisionError) Is(target error) bool {
	t, ok := target.(*ProvisionError)
	if !ok || t.Kind != e.Kind {
		return false
	}
	return t.Container == "" || t.Container == e.Container
}

// IsKind reports whether err contains a ProvisionError of kind.
func IsKind(err error, kind ProvisionKind) bool {
	return errors.Is(err, &ProvisionError{Kind: kind})
}
