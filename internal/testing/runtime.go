package testing

import (
	"context"
	"fmt"
	"io"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/imamik/lxc-compose/internal/platform/lxd"
)

// FakeRuntime is an in-memory lxd.Runtime. Containers start with the IP
// they were created with. Every call is appended to Log as "op name".
type FakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	Log        []string

	// Files holds content written with WriteFile, keyed "container:path".
	Files map[string]string

	// Execs records every exec'd argv, keyed by container.
	Execs map[string][][]string

	// ExecFunc, when set, decides the result of an exec.
	ExecFunc func(h lxd.Handle, opts lxd.ExecOptions) (lxd.ExecResult, error)

	// CreateErr and StartErr fail the named container's create or start.
	CreateErr map[string]error
	StartErr  map[string]error

	// NeverRuns lists containers that stay Stopped after Start.
	NeverRuns map[string]bool
}

var _ lxd.Runtime = (*FakeRuntime)(nil)

type fakeContainer struct {
	lxd.Container
	opts lxd.CreateOptions
}

// NewFakeRuntime creates an empty runtime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: map[string]*fakeContainer{},
		Files:      map[string]string{},
		Execs:      map[string][][]string{},
		CreateErr:  map[string]error{},
		StartErr:   map[string]error{},
		NeverRuns:  map[string]bool{},
	}
}

// Seed adds an existing container, for example one not in any document.
func (f *FakeRuntime) Seed(name string, status lxd.State, ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeContainer{Container: lxd.Container{Name: name, Status: status}}
	if ip != "" {
		c.opts.IP = ip
		if status == lxd.StateRunning {
			c.IPv4 = []string{ip}
		}
	}
	f.containers[name] = c
}

func (f *FakeRuntime) record(op, name string) {
	f.Log = append(f.Log, op+" "+name)
}

// List implements lxd.Runtime.
func (f *FakeRuntime) List(context.Context) ([]lxd.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]lxd.Container, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get implements lxd.Runtime.
func (f *FakeRuntime) Get(_ context.Context, name string) (*lxd.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, lxd.ErrNotFound)
	}
	snap := c.snapshot()
	return &snap, nil
}

// Create implements lxd.Runtime.
func (f *FakeRuntime) Create(_ context.Context, name string, opts lxd.CreateOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create", name)
	if err := f.CreateErr[name]; err != nil {
		return err
	}
	if _, ok := f.containers[name]; ok {
		return fmt.Errorf("container %s already exists", name)
	}
	f.containers[name] = &fakeContainer{
		Container: lxd.Container{Name: name, Status: lxd.StateStopped, Config: maps.Clone(opts.Config)},
		opts:      opts,
	}
	return nil
}

// Start implements lxd.Runtime.
func (f *FakeRuntime) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start", name)
	if err := f.StartErr[name]; err != nil {
		return err
	}
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, lxd.ErrNotFound)
	}
	if f.NeverRuns[name] {
		return nil
	}
	c.Status = lxd.StateRunning
	if c.opts.IP != "" {
		c.IPv4 = []string{c.opts.IP}
	}
	return nil
}

// Stop implements lxd.Runtime.
func (f *FakeRuntime) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop", name)
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, lxd.ErrNotFound)
	}
	c.Status = lxd.StateStopped
	c.IPv4 = nil
	return nil
}

// Delete implements lxd.Runtime.
func (f *FakeRuntime) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete", name)
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, lxd.ErrNotFound)
	}
	if c.Status == lxd.StateRunning {
		return fmt.Errorf("container %s is running", name)
	}
	delete(f.containers, name)
	return nil
}

// Exec implements lxd.Runtime.
func (f *FakeRuntime) Exec(_ context.Context, h lxd.Handle, opts lxd.ExecOptions) (lxd.ExecResult, error) {
	f.mu.Lock()
	f.record("exec", h.Name)
	f.Execs[h.Name] = append(f.Execs[h.Name], append([]string(nil), opts.Command...))
	fn := f.ExecFunc
	f.mu.Unlock()

	if opts.Stdin != nil {
		_, _ = io.Copy(io.Discard, opts.Stdin)
	}
	if fn == nil {
		return lxd.ExecResult{}, nil
	}
	res, err := fn(h, opts)
	if err == nil && res.ExitCode != 0 {
		err = &lxd.ExitError{Container: h.Name, Command: opts.Command, Code: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}
	}
	if opts.Stdout != nil {
		_, _ = io.WriteString(opts.Stdout, res.Stdout)
	}
	return res, err
}

// WriteFile implements lxd.Runtime.
func (f *FakeRuntime) WriteFile(_ context.Context, h lxd.Handle, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("write", h.Name)
	f.Files[h.Name+":"+path] = string(data)
	return nil
}

// CreateOptions returns the options a container was created with.
func (f *FakeRuntime) CreateOptions(name string) (lxd.CreateOptions, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return lxd.CreateOptions{}, false
	}
	return c.opts, true
}

// Index returns the position of the first "op name" entry in Log, or -1.
func (f *FakeRuntime) Index(op, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.Log {
		if l == op+" "+name {
			return i
		}
	}
	return -1
}

// Commands returns the exec'd argv of a container joined by spaces.
func (f *FakeRuntime) Commands(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Execs[name]))
	for _, argv := range f.Execs[name] {
		out = append(out, strings.Join(argv, " "))
	}
	return out
}

func (c *fakeContainer) snapshot() lxd.Container {
	snap := c.Container
	snap.IPv4 = append([]string(nil), c.IPv4...)
	snap.Config = maps.Clone(c.Config)
	return snap
}
