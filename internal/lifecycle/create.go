package lifecycle

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/imamik/lxc-compose/internal/compose"
	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
	"github.com/imamik/lxc-compose/internal/util/labels"
)

// Paths inside every container.
const (
	HostsTarget = "/etc/hosts"
	EnvTarget   = "/app/.env"
)

// Device names of the mounts lxc-compose adds on its own.
const (
	hostsDevice = "lxc-compose-hosts"
	envDevice   = "lxc-compose-env"
)

// createOptions builds the runtime request for a new container. Relative
// mount sources resolve against the compose file directory and missing
// source directories are created.
func (r *Reconciler) createOptions(doc *config.Document, m *compose.Merged, ip netip.Addr) (lxd.CreateOptions, error) {
	opts := lxd.CreateOptions{
		Image:       m.Image,
		IP:          ip.String(),
		Environment: m.Environment,
		Config: labels.NewLabelBuilder().
			WithComposeFile(doc.Path).
			WithTemplate(m.Template).
			Build(),
	}

	for _, mt := range m.Mounts {
		src, err := resolveSource(doc.Dir, mt.Source)
		if err != nil {
			return opts, err
		}
		if _, err := os.Stat(src); os.IsNotExist(err) {
			if err := os.MkdirAll(src, 0o755); err != nil {
				return opts, fmt.Errorf("failed to create mount source %s: %w", src, err)
			}
			r.Observer.Printf("created mount source %s", src)
		}
		opts.Mounts = append(opts.Mounts, lxd.Mount{Name: deviceName(mt.Target), Source: src, Target: mt.Target})
	}

	opts.Mounts = append(opts.Mounts, lxd.Mount{Name: hostsDevice, Source: r.Hosts.Path, Target: HostsTarget, ReadOnly: true})
	if doc.EnvFile != "" {
		opts.Mounts = append(opts.Mounts, lxd.Mount{Name: envDevice, Source: doc.EnvFile, Target: EnvTarget, ReadOnly: true})
	}
	return opts, nil
}

// resolveSource expands ~ and makes src absolute relative to dir.
func resolveSource(dir, src string) (string, error) {
	if src == "~" || strings.HasPrefix(src, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot expand %s: %w", src, err)
		}
		src = filepath.Join(home, strings.TrimPrefix(src, "~"))
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(dir, src)
	}
	return filepath.Clean(src), nil
}

// deviceName derives a disk device name from the mount target,
// e.g. /var/lib/redis becomes var-lib-redis.
func deviceName(target string) string {
	name := strings.Trim(strings.ReplaceAll(target, "/", "-"), "-")
	if name == "" {
		return "root"
	}
	return name
}

// runCommands executes the labeled command sequence. A failing command is a
// warning; the remaining commands still run.
func (r *Reconciler) runCommands(pc *provisioning.Context, h lxd.Handle, m *compose.Merged) {
	for i, c := range m.Commands {
		if pc.Err() != nil {
			return
		}
		label := fmt.Sprintf("[%s] %s", c.Source, c.Label())
		pc.Observer.Progress(provisioning.PhaseCommands, i+1, len(m.Commands))

		err := r.exec(pc, h, c, m.Environment)
		if err != nil {
			provisioning.LogWarning(pc.Observer, provisioning.PhaseCommands, m.Name, "%s failed: %v", label, err)
			pc.State.Warnings = append(pc.State.Warnings, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		pc.Observer.Event(provisioning.Event{
			Type:     provisioning.EventResourceCreated,
			Phase:    provisioning.PhaseCommands,
			Resource: m.Name,
			Message:  label,
		})
	}
}

func (r *Reconciler) exec(ctx context.Context, h lxd.Handle, c config.LabeledCommand, env map[string]string) error {
	if r.Settings.Timeouts.Exec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Settings.Timeouts.Exec)
		defer cancel()
	}
	script := strings.ReplaceAll(c.Command, "\r\n", "\n")
	_, err := r.Runtime.Exec(ctx, h, lxd.ExecOptions{
		Command: []string{"sh", "-c", script},
		Env:     env,
	})
	return err
}
