// Package handlers implements the business logic behind CLI commands.
//
// Handlers are framework-agnostic: they receive plain arguments from the
// cobra commands and wire settings, the runtime, the firewall and the spec
// store into the lifecycle reconciler. Collaborators are created through
// package-level factory variables so tests can swap them for fakes.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/imamik/lxc-compose/internal/compose"
	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/hosts"
	"github.com/imamik/lxc-compose/internal/lifecycle"
	"github.com/imamik/lxc-compose/internal/metrics"
	"github.com/imamik/lxc-compose/internal/network"
	"github.com/imamik/lxc-compose/internal/platform/iptables"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
	"github.com/imamik/lxc-compose/internal/specstore"
	"github.com/imamik/lxc-compose/internal/state"
)

// Options are the global flags shared by every command.
type Options struct {
	File    string
	Verbose bool
}

// Library is a spec store that can also serve test scripts.
type Library interface {
	specstore.Store
	Script(ctx context.Context, name string) ([]byte, error)
}

// Factory function variables - can be replaced in tests.
var (
	// loadSettings reads host settings from the environment.
	loadSettings = config.LoadSettings

	// newRuntime creates the container runtime client.
	newRuntime = func(s *config.Settings) lxd.Runtime {
		return lxd.NewClient(s.Runtime, lxd.ExecRunner{})
	}

	// newFirewall creates the iptables client.
	newFirewall = func() (iptables.Table, error) {
		return iptables.New()
	}

	// openLibrary opens the spec store named by the settings.
	openLibrary = func(ctx context.Context, s *config.Settings) (Library, error) {
		f, err := specstore.Open(ctx, s.Library, s.S3)
		if err != nil {
			return nil, err
		}
		return specstore.NewLibrary(f), nil
	}

	// acquireLock takes the process-wide state lock.
	acquireLock = func(path string) (io.Closer, error) {
		l, err := state.Acquire(path)
		if err != nil {
			return nil, err
		}
		return lockCloser{l}, nil
	}

	// newObserver creates the console observer.
	newObserver = func(w io.Writer, level string) provisioning.Observer {
		return provisioning.NewConsoleObserverWithWriter(w, provisioning.ParseLevel(level))
	}

	// workingDir returns the directory compose files are looked up in.
	workingDir = os.Getwd

	// stdout and stderr receive command output.
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	stdin  io.Reader = os.Stdin
)

// unavailableLibrary fails every lookup with the error that prevented the
// store from opening.
type unavailableLibrary struct{ err error }

func (u unavailableLibrary) Template(context.Context, string) (*specstore.Template, error) {
	return nil, u.err
}

func (u unavailableLibrary) Service(context.Context, string, string, string) (*specstore.LibraryService, error) {
	return nil, u.err
}

func (u unavailableLibrary) Script(context.Context, string) ([]byte, error) {
	return nil, u.err
}

type lockCloser struct{ l *state.Lock }

func (c lockCloser) Close() error { return c.l.Release() }

// app holds the collaborators of one CLI run.
type app struct {
	settings   *config.Settings
	observer   provisioning.Observer
	runtime    lxd.Runtime
	library    Library
	records    *state.Store
	network    *network.Reconciler
	reconciler *lifecycle.Reconciler
	metrics    *metrics.Recorder
	lock       io.Closer
}

// setupMode selects which collaborators a command needs.
type setupMode int

const (
	// readOnly commands inspect state without the lock.
	readOnly setupMode = iota
	// mutating commands hold the state lock for their whole run.
	mutating
)

// newApp wires collaborators from the environment.
func newApp(ctx context.Context, opts Options, mode setupMode) (*app, error) {
	settings := loadSettings()
	if opts.Verbose {
		settings.LogLevel = "debug"
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	runID := uuid.NewString()
	observer := newObserver(stderr, settings.LogLevel).WithFields(map[string]string{"run": runID[:8]})

	a := &app{settings: settings, observer: observer}
	if mode == mutating {
		lock, err := acquireLock(settings.LockPath())
		if err != nil {
			return nil, err
		}
		a.lock = lock
	}
	if err := a.wire(ctx); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	library, err := openLibrary(ctx, a.settings)
	if err != nil {
		// Documents using plain images never touch the store.
		provisioning.LogWarning(a.observer, provisioning.PhaseCompose, a.settings.Library, "spec store unavailable: %v", err)
		library = unavailableLibrary{err: fmt.Errorf("failed to open spec store: %w", err)}
	}
	a.library = library

	table, err := newFirewall()
	if err != nil {
		return fmt.Errorf("failed to initialize iptables: %w", err)
	}
	if a.settings.MetricsFile != "" {
		a.metrics = metrics.New()
	}

	a.runtime = newRuntime(a.settings)
	a.records = state.NewStore(a.settings.StatePath())
	a.network = network.NewReconciler(table, a.records, a.observer, a.metrics)

	var system *hosts.File
	if a.settings.SystemHosts != "" {
		system = hosts.NewSystem(a.settings.SystemHosts)
	}
	a.reconciler, err = lifecycle.NewReconciler(lifecycle.Deps{
		Runtime:  a.runtime,
		Store:    a.library,
		Records:  a.records,
		Hosts:    hosts.NewShared(a.settings.SharedHosts),
		System:   system,
		Network:  a.network,
		Settings: a.settings,
		Observer: a.observer,
		Metrics:  a.metrics,
	})
	return err
}

// close exports metrics and releases the lock.
func (a *app) close() error {
	var errs []error
	if a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.settings.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Close())
	}
	return errors.Join(errs...)
}

// loadDocument reads the compose file named by opts or found in the working
// directory.
func loadDocument(opts Options) (*config.Document, error) {
	dir, err := workingDir()
	if err != nil {
		return nil, err
	}
	path, err := config.FindFile(dir, opts.File)
	if err != nil {
		return nil, err
	}
	return config.LoadDocument(path)
}

// composeOne resolves a single container of doc.
func composeOne(ctx context.Context, doc *config.Document, store specstore.Store, name string) (*compose.Merged, error) {
	spec, ok := doc.Container(name)
	if !ok {
		return nil, fmt.Errorf("container %q is not defined in %s", name, doc.Path)
	}
	return compose.Compose(ctx, spec, store)
}

// withApp runs fn with a wired app and always closes it.
func withApp(ctx context.Context, opts Options, mode setupMode, fn func(*app) error) (err error) {
	a, err := newApp(ctx, opts, mode)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
