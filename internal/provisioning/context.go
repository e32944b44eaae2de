package provisioning

import (
	"context"

	"github.com/imamik/lxc-compose/internal/config"
)

// Context wraps all dependencies and state needed for a provisioning phase.
type Context struct {
	context.Context
	Container string
	Settings  *config.Settings
	State     *State
	Observer  Observer
}

// NewContext creates a provisioning context for one container.
// The observer is scoped with a container field.
func NewContext(ctx context.Context, container string, settings *config.Settings, observer Observer) *Context {
	if observer == nil {
		observer = NewConsoleObserver()
	}
	return &Context{
		Context:   ctx,
		Container: container,
		Settings:  settings,
		State:     NewState(),
		Observer:  observer.WithFields(map[string]string{"container": container}),
	}
}
