package specstore

import (
	"context"
	"errors"

	"github.com/imamik/lxc-compose/internal/config"
)

// ErrNotFound is returned when a definition does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store resolves templates by name and library services by (os, version, name).
type Store interface {
	Template(ctx context.Context, name string) (*Template, error)
	Service(ctx context.Context, os, version, name string) (*LibraryService, error)
}

// Template is a named base image definition.
type Template struct {
	Name         string
	Image        string
	OS           string
	Version      string
	BasePackages []string
	Environment  map[string]string
	InitCommands []config.LabeledCommand
}

// LibraryService is a reusable service definition merged into containers
// that include it.
type LibraryService struct {
	Name         string
	OS           string
	Version      string
	Packages     []string
	ExposedPorts []int
	Mounts       []config.Mount
	Environment  map[string]string
	Services     map[string]config.StringMap
	PostInstall  []config.LabeledCommand
	Tests        config.Tests
	Logs         []config.LogEntry

	// Path is the store-relative directory of the service, used to resolve
	// its test scripts.
	Path string
}
