package testrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/imamik/lxc-compose/internal/compose"
	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/network"
	"github.com/imamik/lxc-compose/internal/platform/iptables"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
)

// ScriptDir is where internal test scripts are copied inside a container.
const ScriptDir = "/tmp/lxc-compose-tests"

// RulesCheck is the name of the built-in port forwarding check.
const RulesCheck = "firewall-rules"

// ScriptSource reads library scripts by their store-relative name.
type ScriptSource interface {
	Script(ctx context.Context, name string) ([]byte, error)
}

// Runner executes container tests.
type Runner struct {
	runtime  lxd.Runtime
	scripts  ScriptSource
	dir      string
	network  *network.Reconciler
	host     lxd.Runner
	observer provisioning.Observer
	stdout   io.Writer
	stderr   io.Writer
	timeout  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithNetwork enables the built-in firewall rule check for port forwarding
// tests.
func WithNetwork(n *network.Reconciler) Option {
	return func(r *Runner) { r.network = n }
}

// WithHostRunner replaces the runner of host scripts.
func WithHostRunner(h lxd.Runner) Option {
	return func(r *Runner) { r.host = h }
}

// WithObserver sets the observer receiving test events.
func WithObserver(o provisioning.Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithOutput streams test script output to the given writers.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithTimeout bounds a single test script.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// New creates a Runner. dir is the directory of the compose file.
func New(rt lxd.Runtime, scripts ScriptSource, dir string, opts ...Option) *Runner {
	r := &Runner{
		runtime:  rt,
		scripts:  scripts,
		dir:      dir,
		host:     lxd.ExecRunner{},
		observer: provisioning.NewConsoleObserver(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Planned is one test scheduled for a container.
type Planned struct {
	Kind  config.TestKind
	Entry config.TestEntry
}

// Plan lists the tests of m for the given kinds, in execution order. No kinds
// means every kind.
func Plan(m *compose.Merged, kinds ...config.TestKind) []Planned {
	var out []Planned
	for _, kind := range config.TestKinds {
		if !selected(kinds, kind) {
			continue
		}
		for _, e := range m.TestsOf(kind) {
			out = append(out, Planned{Kind: kind, Entry: e})
		}
	}
	return out
}

func selected(kinds []config.TestKind, kind config.TestKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Run executes the tests of every container. Containers without tests are
// skipped with a warning.
func (r *Runner) Run(ctx context.Context, containers []*compose.Merged, kinds ...config.TestKind) *Summary {
	sum := &Summary{}
	for _, m := range containers {
		if ctx.Err() != nil {
			break
		}
		plan := Plan(m, kinds...)
		checkRules := r.network != nil && len(m.ExposedPorts) > 0 && selected(kinds, config.TestPortForwarding)
		if len(plan) == 0 && !checkRules {
			provisioning.LogWarning(r.observer, provisioning.PhaseTest, m.Name, "no tests defined")
			continue
		}
		sum.Containers++
		sum.Results = append(sum.Results, r.runContainer(ctx, m, plan, checkRules)...)
	}
	return sum
}

func (r *Runner) runContainer(ctx context.Context, m *compose.Merged, plan []Planned, checkRules bool) []Result {
	observer := r.observer.WithFields(map[string]string{"container": m.Name})

	ct, err := r.runtime.Get(ctx, m.Name)
	if err == nil && !ct.Running() {
		err = fmt.Errorf("container is %s", strings.ToLower(string(ct.Status)))
	}
	if err != nil {
		var out []Result
		for _, p := range plan {
			out = append(out, failed(m.Name, p.Kind, p.Entry, -1, err, 0))
		}
		if checkRules {
			out = append(out, failed(m.Name, config.TestPortForwarding, config.TestEntry{Name: RulesCheck}, -1, err, 0))
		}
		provisioning.LogResourceFailed(observer, provisioning.PhaseTest, "container", m.Name, err)
		return out
	}

	var ip string
	if len(ct.IPv4) > 0 {
		ip = ct.IPv4[0]
	}
	h := lxd.Handle{Name: m.Name, OS: m.OS, Version: m.Version}

	var out []Result
	rulesChecked := false
	for _, p := range plan {
		if p.Kind == config.TestPortForwarding && checkRules && !rulesChecked {
			out = append(out, r.checkRules(ctx, observer, m, ip))
			rulesChecked = true
		}
		observer.Printf("Running %s test %s", p.Kind, p.Entry.Name)
		var res Result
		if p.Kind == config.TestInternal {
			res = r.runInternal(ctx, h, m, p.Entry)
		} else {
			res = r.runHost(ctx, m, ip, p.Kind, p.Entry)
		}
		r.report(observer, res)
		out = append(out, res)
	}
	if checkRules && !rulesChecked {
		out = append(out, r.checkRules(ctx, observer, m, ip))
	}
	return out
}

func (r *Runner) report(observer provisioning.Observer, res Result) {
	if res.Passed {
		observer.Event(provisioning.Event{
			Type:     provisioning.EventPhaseCompleted,
			Phase:    provisioning.PhaseTest,
			Resource: res.Name,
			Message:  fmt.Sprintf("%s test passed (%s)", res.Kind, res.Duration.Round(time.Millisecond)),
		})
		return
	}
	observer.Event(provisioning.Event{
		Type:     provisioning.EventPhaseFailed,
		Phase:    provisioning.PhaseTest,
		Resource: res.Name,
		Message:  res.Err.Error(),
	})
}

func (r *Runner) runInternal(ctx context.Context, h lxd.Handle, m *compose.Merged, e config.TestEntry) Result {
	start := time.Now()
	target := e.Path
	if e.LibraryPath != "" || !path.IsAbs(e.Path) {
		data, err := r.script(ctx, e)
		if err != nil {
			return failed(m.Name, config.TestInternal, e, -1, err, time.Since(start))
		}
		target = path.Join(ScriptDir, e.Name+".sh")
		if err := r.runtime.WriteFile(ctx, h, target, data); err != nil {
			return failed(m.Name, config.TestInternal, e, -1, fmt.Errorf("failed to copy script: %w", err), time.Since(start))
		}
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.runtime.Exec(ctx, h, lxd.ExecOptions{
		Command: []string{"sh", target},
		Env:     m.Environment,
		Stdout:  r.stdout,
		Stderr:  r.stderr,
	})
	if err != nil {
		var exitErr *lxd.ExitError
		if errors.As(err, &exitErr) {
			return failed(m.Name, config.TestInternal, e, exitErr.Code, nil, time.Since(start))
		}
		return failed(m.Name, config.TestInternal, e, -1, err, time.Since(start))
	}
	return passed(m.Name, config.TestInternal, e, time.Since(start))
}

func (r *Runner) runHost(ctx context.Context, m *compose.Merged, ip string, kind config.TestKind, e config.TestEntry) Result {
	start := time.Now()
	file, cleanup, err := r.hostScript(ctx, e)
	if err != nil {
		return failed(m.Name, kind, e, -1, err, time.Since(start))
	}
	defer cleanup()

	env := map[string]string{}
	for k, v := range m.Environment {
		env[k] = v
	}
	env["CONTAINER_NAME"] = m.Name
	env["CONTAINER_IP"] = ip

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		args = append(args, k+"="+env[k])
	}
	args = append(args, "sh", file)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	res, err := r.host.Run(ctx, "env", lxd.Command{Args: args, Stdout: r.stdout, Stderr: r.stderr})
	if err != nil {
		return failed(m.Name, kind, e, -1, err, time.Since(start))
	}
	if res.ExitCode != 0 {
		return failed(m.Name, kind, e, res.ExitCode, nil, time.Since(start))
	}
	return passed(m.Name, kind, e, time.Since(start))
}

func (r *Runner) checkRules(ctx context.Context, observer provisioning.Observer, m *compose.Merged, ip string) Result {
	start := time.Now()
	e := config.TestEntry{Name: RulesCheck, Source: "built-in"}
	res := func() Result {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return failed(m.Name, config.TestPortForwarding, e, -1, fmt.Errorf("container has no usable address %q", ip), time.Since(start))
		}
		st, err := r.network.Status(ctx, m.Name, addr, m.ExposedPorts)
		if err != nil {
			return failed(m.Name, config.TestPortForwarding, e, -1, err, time.Since(start))
		}
		if !st.OK() {
			return failed(m.Name, config.TestPortForwarding, e, -1, rulesError(st), time.Since(start))
		}
		return passed(m.Name, config.TestPortForwarding, e, time.Since(start))
	}()
	r.report(observer, res)
	return res
}

// rulesError describes how the live rules differ from the desired set.
func rulesError(st *network.Status) error {
	var errs []error
	if len(st.Missing) > 0 {
		errs = append(errs, fmt.Errorf("%d of %d firewall rules missing: %s",
			len(st.Missing), len(st.Missing)+len(st.Present), joinRules(st.Missing)))
	}
	if len(st.Extra) > 0 {
		errs = append(errs, fmt.Errorf("%d stale firewall rules: %s", len(st.Extra), joinRules(st.Extra)))
	}
	if len(st.Conflicting) > 0 {
		errs = append(errs, fmt.Errorf("%d rules tagged for other containers use this address: %s",
			len(st.Conflicting), joinRules(st.Conflicting)))
	}
	return errors.Join(errs...)
}

func joinRules(rules []iptables.Rule) string {
	out := make([]string, 0, len(rules))
	for _, rule := range rules {
		out = append(out, rule.String())
	}
	return strings.Join(out, "; ")
}

// script reads a test script from the library or the compose directory.
func (r *Runner) script(ctx context.Context, e config.TestEntry) ([]byte, error) {
	if e.LibraryPath != "" {
		if r.scripts == nil {
			return nil, fmt.Errorf("no spec store configured for %s", e.Path)
		}
		data, err := r.scripts.Script(ctx, libraryName(e))
		if err != nil {
			return nil, fmt.Errorf("failed to read test script: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(r.localPath(e.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to read test script: %w", err)
	}
	return data, nil
}

// hostScript returns a host path to run. Library scripts are written to a
// temporary file removed by cleanup.
func (r *Runner) hostScript(ctx context.Context, e config.TestEntry) (string, func(), error) {
	if e.LibraryPath == "" {
		p := r.localPath(e.Path)
		if _, err := os.Stat(p); err != nil {
			return "", nil, fmt.Errorf("test script not found: %s", p)
		}
		return p, func() {}, nil
	}

	data, err := r.script(ctx, e)
	if err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp("", "lxc-compose-test-*.sh")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp script: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write temp script: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write temp script: %w", err)
	}
	return f.Name(), cleanup, nil
}

func (r *Runner) localPath(p string) string {
	if rest, ok := strings.CutPrefix(p, "/app/"); ok {
		return filepath.Join(r.dir, filepath.FromSlash(rest))
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.dir, filepath.FromSlash(p))
}

func (r *Runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func libraryName(e config.TestEntry) string {
	return path.Join(e.LibraryPath, strings.TrimPrefix(e.Path, "/"))
}
