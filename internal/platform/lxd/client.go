package lxd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Client implements Runtime on top of the lxc or incus command line client.
type Client struct {
	binary string
	runner Runner
}

var _ Runtime = (*Client)(nil)

// NewClient creates a client for binary ("lxc" or "incus"). A nil runner
// runs commands on the host.
func NewClient(binary string, runner Runner) *Client {
	if binary == "" {
		binary = "lxc"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{binary: binary, runner: runner}
}

// Binary returns the runtime client the Client invokes.
func (c *Client) Binary() string {
	return c.binary
}

type listEntry struct {
	Name   string            `json:"name"`
	Status string            `json:"status"`
	Config map[string]string `json:"config"`
	State  *struct {
		Network map[string]struct {
			Addresses []struct {
				Family  string `json:"family"`
				Address string `json:"address"`
				Scope   string `json:"scope"`
			} `json:"addresses"`
		} `json:"network"`
	} `json:"state"`
}

// List returns every container the runtime knows, sorted by name.
func (c *Client) List(ctx context.Context) ([]Container, error) {
	res, err := c.run(ctx, Command{Args: []string{"list", "--format=json"}})
	if err != nil {
		return nil, err
	}
	var entries []listEntry
	if err := json.Unmarshal([]byte(res.Stdout), &entries); err != nil {
		return nil, fmt.Errorf("failed to decode %s list output: %w", c.binary, err)
	}

	out := make([]Container, 0, len(entries))
	for _, e := range entries {
		ct := Container{Name: e.Name, Status: parseState(e.Status), Config: e.Config}
		if e.State != nil {
			ifaces := make([]string, 0, len(e.State.Network))
			for name := range e.State.Network {
				ifaces = append(ifaces, name)
			}
			sort.Strings(ifaces)
			for _, name := range ifaces {
				if name == "lo" {
					continue
				}
				for _, a := range e.State.Network[name].Addresses {
					if a.Family == "inet" && a.Scope == "global" {
						ct.IPv4 = append(ct.IPv4, a.Address)
					}
				}
			}
		}
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns one container or ErrNotFound.
func (c *Client) Get(ctx context.Context, name string) (*Container, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Create initialises a stopped container with its address, environment,
// configuration keys and disk devices. A partially configured container is
// deleted again when a later step fails.
func (c *Client) Create(ctx context.Context, name string, opts CreateOptions) error {
	args := []string{"init", opts.Image, name}
	for _, kv := range sortedPairs(opts.Config, "") {
		args = append(args, "--config", kv)
	}
	for _, kv := range sortedPairs(opts.Environment, "environment.") {
		args = append(args, "--config", kv)
	}
	if _, err := c.run(ctx, Command{Args: args}); err != nil {
		return err
	}

	steps := make([][]string, 0, 1+len(opts.Mounts))
	if opts.IP != "" {
		steps = append(steps, []string{"config", "device", "override", name, "eth0", "ipv4.address=" + opts.IP})
	}
	for i, m := range opts.Mounts {
		dev := m.Name
		if dev == "" {
			dev = fmt.Sprintf("mount%d", i)
		}
		step := []string{"config", "device", "add", name, dev, "disk",
			"source=" + m.Source, "path=" + m.Target, "shift=true"}
		if m.ReadOnly {
			step = append(step, "readonly=true")
		}
		steps = append(steps, step)
	}

	for _, step := range steps {
		if _, err := c.run(ctx, Command{Args: step}); err != nil {
			_, _ = c.run(ctx, Command{Args: []string{"delete", name, "--force"}})
			return err
		}
	}
	return nil
}

// Start starts a container. Starting a running container is not an error.
func (c *Client) Start(ctx context.Context, name string) error {
	_, err := c.run(ctx, Command{Args: []string{"start", name}})
	if err != nil && strings.Contains(err.Error(), "already running") {
		return nil
	}
	return err
}

// Stop stops a container. Stopping a stopped container is not an error.
func (c *Client) Stop(ctx context.Context, name string) error {
	_, err := c.run(ctx, Command{Args: []string{"stop", name}})
	if err != nil && strings.Contains(err.Error(), "already stopped") {
		return nil
	}
	return err
}

// Delete removes a stopped container.
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.run(ctx, Command{Args: []string{"delete", name}})
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "not found") {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return err
}

// Exec runs a command in a container. A non-zero exit returns the captured
// result together with an *ExitError.
func (c *Client) Exec(ctx context.Context, h Handle, opts ExecOptions) (ExecResult, error) {
	if len(opts.Command) == 0 {
		return ExecResult{}, fmt.Errorf("exec in %s: empty command", h.Name)
	}
	args := []string{"exec", h.Name}
	if opts.Cwd != "" {
		args = append(args, "--cwd", opts.Cwd)
	}
	for _, kv := range sortedPairs(opts.Env, "") {
		args = append(args, "--env", kv)
	}
	args = append(args, "--")
	args = append(args, opts.Command...)

	res, err := c.runner.Run(ctx, c.binary, Command{
		Args:   args,
		Stdin:  opts.Stdin,
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
	})
	if err != nil {
		return res, fmt.Errorf("%s exec %s: %w", c.binary, h.Name, err)
	}
	if res.ExitCode != 0 {
		return res, &ExitError{
			Container: h.Name,
			Command:   opts.Command,
			Code:      res.ExitCode,
			Stderr:    strings.TrimSpace(res.Stderr),
		}
	}
	return res, nil
}

// WriteFile writes data to path inside the container, creating parent
// directories.
func (c *Client) WriteFile(ctx context.Context, h Handle, path string, data []byte) error {
	_, err := c.Exec(ctx, h, ExecOptions{
		Command: []string{"sh", "-c", `mkdir -p "$(dirname "$1")" && cat > "$1"`, "sh", path},
		Stdin:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s in %s: %w", path, h.Name, err)
	}
	return nil
}

// run invokes the client and turns a non-zero exit into an error carrying
// stderr.
func (c *Client) run(ctx context.Context, cmd Command) (ExecResult, error) {
	res, err := c.runner.Run(ctx, c.binary, cmd)
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", c.binary, cmd.Args[0], err)
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("%s %s failed (exit %d): %s", c.binary, strings.Join(cmd.Args, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

func parseState(s string) State {
	switch State(s) {
	case StateRunning, StateStopped, StateFrozen, StateError:
		return State(s)
	default:
		return StateUnknown
	}
}

func sortedPairs(m map[string]string, prefix string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, prefix+k+"="+v)
	}
	sort.Strings(out)
	return out
}
