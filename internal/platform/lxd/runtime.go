package lxd

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when a container does not exist.
var ErrNotFound = errors.New("container not found")

// State is a runtime container status.
type State string

const (
	StateRunning State = "Running"
	StateStopped State = "Stopped"
	StateFrozen  State = "Frozen"
	StateError   State = "Error"
	StateUnknown State = "Unknown"
)

// Handle identifies a container for in-container execution. It is passed by
// value so steps cannot mutate each other's view of the container.
type Handle struct {
	Name    string
	OS      string
	Version string
}

// Shell returns the interactive shell for the container's OS.
func (h Handle) Shell() string {
	if h.OS == "alpine" {
		return "sh"
	}
	return "bash"
}

// Container is a runtime's view of one container.
type Container struct {
	Name   string            `json:"name"`
	Status State             `json:"status"`
	IPv4   []string          `json:"ipv4,omitempty"`
	Config map[string]string `json:"config,omitempty"`
}

// Running reports whether the container is running.
func (c Container) Running() bool {
	return c.Status == StateRunning
}

// Mount binds a host path into a container.
type Mount struct {
	Name     string
	Source   string
	Target   string
	ReadOnly bool
}

// CreateOptions configures a new container.
type CreateOptions struct {
	Image       string
	IP          string
	Environment map[string]string
	Config      map[string]string
	Mounts      []Mount
}

// ExecOptions configures a command run inside a container.
type ExecOptions struct {
	Command []string
	Env     map[string]string
	Cwd     string
	Stdin   io.Reader

	// Stdout and Stderr, when set, receive output as it is produced in
	// addition to it being captured in ExecResult.
	Stdout io.Writer
	Stderr io.Writer
}

// ExecResult is the outcome of a finished command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output returns stdout followed by stderr.
func (r ExecResult) Output() string {
	return r.Stdout + r.Stderr
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Container string
	Command   []string
	Code      int
	Stderr    string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q in %s exited with status %d", e.Command, e.Container, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Runtime is the container runtime consumed by the lifecycle reconciler.
type Runtime interface {
	List(ctx context.Context) ([]Container, error)
	Get(ctx context.Context, name string) (*Container, error)
	Create(ctx context.Context, name string, opts CreateOptions) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	Exec(ctx context.Context, h Handle, opts ExecOptions) (ExecResult, error)
	WriteFile(ctx context.Context, h Handle, path string, data []byte) error
}
