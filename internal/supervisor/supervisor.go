package supervisor

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/imamik/lxc-compose/internal/platform/lxd"
)

// Config directories per OS. Alpine's supervisor package reads
// /etc/supervisor.d/*.ini, Debian and Ubuntu read conf.d/*.conf.
const (
	alpineDir = "/etc/supervisor.d"
	debianDir = "/etc/supervisor/conf.d"
)

// Program is one [program:x] section.
type Program struct {
	Name        string
	Options     map[string]string
	Environment map[string]string
}

// ConfigPath returns where the program definition lives inside a container
// of the given OS.
func ConfigPath(os, name string) string {
	if os == "alpine" {
		return path.Join(alpineDir, name+".ini")
	}
	return path.Join(debianDir, name+".conf")
}

// Render produces the ini text. Options are emitted in sorted order and an
// explicit environment option wins over the generated one.
func (p Program) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[program:%s]\n", p.Name)

	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, p.Options[k])
	}

	if _, ok := p.Options["environment"]; !ok && len(p.Environment) > 0 {
		b.WriteString("environment=")
		b.WriteString(renderEnvironment(p.Environment))
		b.WriteByte('\n')
	}
	return b.String()
}

// renderEnvironment formats KEY="value" pairs the way supervisord parses
// them, sorted by key.
func renderEnvironment(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.ReplaceAll(env[k], "%", "%%")
		pairs = append(pairs, k+"="+strconv.Quote(v))
	}
	return strings.Join(pairs, ",")
}

// Programs builds the programs of a container from its merged services.
func Programs(services map[string]map[string]string, env map[string]string) []Program {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Program, 0, len(names))
	for _, name := range names {
		out = append(out, Program{Name: name, Options: services[name], Environment: env})
	}
	return out
}

// Installer writes program definitions and asks supervisord to pick them up.
type Installer struct {
	rt lxd.Runtime
}

// NewInstaller creates an installer on rt.
func NewInstaller(rt lxd.Runtime) *Installer {
	return &Installer{rt: rt}
}

// Install writes every program and reloads supervisord. Programs already
// written stay in place when a later one fails.
func (i *Installer) Install(ctx context.Context, h lxd.Handle, programs []Program) error {
	if len(programs) == 0 {
		return nil
	}
	for _, p := range programs {
		if err := i.rt.WriteFile(ctx, h, ConfigPath(h.OS, p.Name), []byte(p.Render())); err != nil {
			return fmt.Errorf("failed to write supervisor program %s: %w", p.Name, err)
		}
	}
	return i.Reload(ctx, h)
}

// Reload runs supervisorctl reread followed by update.
func (i *Installer) Reload(ctx context.Context, h lxd.Handle) error {
	for _, sub := range []string{"reread", "update"} {
		if _, err := i.rt.Exec(ctx, h, lxd.ExecOptions{Command: []string{"supervisorctl", sub}}); err != nil {
			return fmt.Errorf("supervisorctl %s failed: %w", sub, err)
		}
	}
	return nil
}

// Restart restarts a single program.
func (i *Installer) Restart(ctx context.Context, h lxd.Handle, name string) error {
	if _, err := i.rt.Exec(ctx, h, lxd.ExecOptions{Command: []string{"supervisorctl", "restart", name}}); err != nil {
		return fmt.Errorf("supervisorctl restart %s failed: %w", name, err)
	}
	return nil
}
