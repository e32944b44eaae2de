package packages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/metrics"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
	"github.com/imamik/lxc-compose/internal/util/retry"
)

// Clock supplies time to the retry state machine.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time                                   { return time.Now() }
func (realClock) Sleep(ctx context.Context, d time.Duration) error { return retry.Sleep(ctx, d) }

// Policy configures retries and mirrors.
type Policy struct {
	// MaxRetries counts retries after the first attempt on each mirror.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	DNSWait    time.Duration

	// Mirrors per OS family. The image's own repositories are always tried
	// first and are not listed here.
	Mirrors map[string][]string
}

// DefaultPolicy returns five retries per mirror after the first attempt,
// waiting 1s, 2s, 4s, 8s and 16s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   16 * time.Second,
		DNSWait:    5 * time.Second,
		Mirrors:    DefaultMirrors,
	}
}

// PolicyFromSettings builds a policy from environment settings.
func PolicyFromSettings(s config.PackageRetry) Policy {
	p := DefaultPolicy()
	if s.MaxRetries > 0 {
		p.MaxRetries = s.MaxRetries
	}
	if s.BaseDelay > 0 {
		p.BaseDelay = s.BaseDelay
	}
	if s.MaxDelay > 0 {
		p.MaxDelay = s.MaxDelay
	}
	if s.DNSWait > 0 {
		p.DNSWait = s.DNSWait
	}
	return p
}

// PackageInstallWarning reports packages that could not be installed on any
// mirror. It is logged, never returned by Install.
type PackageInstallWarning struct {
	Container string
	Packages  []string
	Attempts  int
	Err       error
}

func (w *PackageInstallWarning) Error() string {
	return fmt.Sprintf("packages %s not installed in %s after %d attempts: %v",
		strings.Join(w.Packages, ","), w.Container, w.Attempts, w.Err)
}

func (w *PackageInstallWarning) Unwrap() error {
	return w.Err
}

// Attempt is one install try as seen by the state machine.
type Attempt struct {
	Mirror string
	Try    int
	Class  FailureClass
	Wait   time.Duration
	Output string
}

// Report summarises an install run.
type Report struct {
	Family    string
	Packages  []string
	Attempts  []Attempt
	Mirror    string
	Installed bool
	Elapsed   time.Duration
	Warning   *PackageInstallWarning
}

// Option configures an Installer.
type Option func(*Installer)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(i *Installer) { i.clock = c }
}

// WithObserver sets the observer receiving warnings.
func WithObserver(o provisioning.Observer) Option {
	return func(i *Installer) { i.observer = o }
}

// WithMetrics records every attempt.
func WithMetrics(r *metrics.Recorder) Option {
	return func(i *Installer) { i.metrics = r }
}

// Installer installs packages through a container runtime.
type Installer struct {
	rt       lxd.Runtime
	policy   Policy
	clock    Clock
	observer provisioning.Observer
	metrics  *metrics.Recorder
}

// NewInstaller creates an installer.
func NewInstaller(rt lxd.Runtime, policy Policy, opts ...Option) *Installer {
	i := &Installer{
		rt:       rt,
		policy:   policy,
		clock:    realClock{},
		observer: provisioning.NewConsoleObserver(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.policy.MaxRetries < 0 {
		i.policy.MaxRetries = 0
	}
	return i
}

// Install installs packages and returns nil on degradation; only context
// cancellation and unsupported OS families are errors.
func (i *Installer) Install(ctx context.Context, h lxd.Handle, os string, pkgs []string) error {
	_, err := i.InstallWithReport(ctx, h, os, pkgs)
	return err
}

// machine is the installer's retry state.
type machine struct {
	attempt     int
	mirrorIndex int
	elapsed     time.Duration
	dnsRetried  bool
}

func (m *machine) rotate() {
	m.mirrorIndex++
	m.attempt = 0
	m.dnsRetried = false
}

// InstallWithReport is Install returning the attempt history.
func (i *Installer) InstallWithReport(ctx context.Context, h lxd.Handle, os string, pkgs []string) (*Report, error) {
	family := Family(os)
	if family == "" {
		detected, err := i.detect(ctx, h)
		if err != nil {
			return nil, err
		}
		family = detected
	}
	report := &Report{Family: family, Packages: pkgs}
	if len(pkgs) == 0 {
		report.Installed = true
		return report, nil
	}

	cmds, env, err := installCommands(family, pkgs)
	if err != nil {
		return nil, err
	}
	mirrors := append([]string{""}, i.policy.Mirrors[family]...)

	start := i.clock.Now()
	m := &machine{}
	var lastErr error

	for m.mirrorIndex < len(mirrors) {
		mirror := mirrors[m.mirrorIndex]
		if m.attempt == 0 && !m.dnsRetried && mirror != "" {
			if err := i.useMirror(ctx, h, family, h.Version, mirror); err != nil {
				lastErr = err
				report.Attempts = append(report.Attempts, Attempt{Mirror: mirror, Class: ClassOther, Output: err.Error()})
				m.rotate()
				continue
			}
		}

		output, runErr := i.run(ctx, h, cmds, env)
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		class := Classify(output, runErr != nil)
		i.metrics.PackageAttempt(family, class.String())
		m.elapsed = i.clock.Now().Sub(start)

		at := Attempt{Mirror: mirrorLabel(mirror), Try: m.attempt + 1, Class: class, Output: tail(output, 400)}
		if class == ClassNone {
			report.Attempts = append(report.Attempts, at)
			report.Installed = true
			report.Mirror = mirrorLabel(mirror)
			report.Elapsed = m.elapsed
			return report, nil
		}
		lastErr = runErr

		var wait time.Duration
		switch class {
		case ClassTimeout:
			m.rotate()
		case ClassDNS:
			if m.dnsRetried {
				m.rotate()
			} else {
				m.dnsRetried = true
				wait = i.policy.DNSWait
			}
		default:
			m.attempt++
			if m.attempt > i.policy.MaxRetries {
				m.rotate()
			} else {
				wait = retry.Backoff(m.attempt-1, i.policy.BaseDelay, i.policy.MaxDelay)
			}
		}
		at.Wait = wait
		report.Attempts = append(report.Attempts, at)

		if wait > 0 {
			if err := i.clock.Sleep(ctx, wait); err != nil {
				return report, err
			}
		}
	}

	report.Elapsed = i.clock.Now().Sub(start)
	report.Warning = &PackageInstallWarning{
		Container: h.Name,
		Packages:  pkgs,
		Attempts:  len(report.Attempts),
		Err:       lastErr,
	}
	provisioning.LogWarning(i.observer, provisioning.PhasePackages, h.Name, "%v", report.Warning)
	return report, nil
}

func (i *Installer) run(ctx context.Context, h lxd.Handle, cmds [][]string, env map[string]string) (string, error) {
	var out strings.Builder
	for _, argv := range cmds {
		res, err := i.rt.Exec(ctx, h, lxd.ExecOptions{Command: argv, Env: env})
		out.WriteString(res.Output())
		if err != nil {
			return out.String(), err
		}
	}
	return out.String(), nil
}

// useMirror points the container's package manager at mirror.
func (i *Installer) useMirror(ctx context.Context, h lxd.Handle, family, version, mirror string) error {
	repo, err := repositoryFor(family, version, mirror)
	if err != nil {
		return err
	}
	i.observer.Event(provisioning.Event{
		Type:     provisioning.EventResourceCreating,
		Phase:    provisioning.PhasePackages,
		Resource: h.Name,
		Message:  "switching package mirror",
		Fields:   map[string]string{"mirror": mirror},
	})
	if len(repo.Remove) > 0 {
		if _, err := i.rt.Exec(ctx, h, lxd.ExecOptions{Command: append([]string{"rm", "-f"}, repo.Remove...)}); err != nil {
			return fmt.Errorf("failed to remove default sources: %w", err)
		}
	}
	return i.rt.WriteFile(ctx, h, repo.Path, []byte(repo.Content))
}

// detect probes the container for a known package manager.
func (i *Installer) detect(ctx context.Context, h lxd.Handle) (string, error) {
	probes := []struct{ bin, family string }{
		{"apk", OSAlpine},
		{"apt-get", OSDebian},
	}
	for _, p := range probes {
		_, err := i.rt.Exec(ctx, h, lxd.ExecOptions{Command: []string{"which", p.bin}})
		if err == nil {
			return p.family, nil
		}
		var exitErr *lxd.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("failed to probe package manager in %s: %w", h.Name, err)
		}
	}
	return "", fmt.Errorf("no supported package manager found in %s", h.Name)
}

func mirrorLabel(m string) string {
	if m == "" {
		return "default"
	}
	return m
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
