package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
)

// DefaultLogLines is the number of lines shown when -n is not given.
const DefaultLogLines = 50

// Logs handles the logs command. Without a log name it lists the logs
// defined for the container.
func Logs(ctx context.Context, opts Options, container, name string, follow bool, lines int) error {
	doc, err := loadDocument(opts)
	if err != nil {
		return err
	}

	return withApp(ctx, opts, readOnly, func(a *app) error {
		m, err := composeOne(ctx, doc, a.library, container)
		if err != nil {
			return err
		}
		if len(m.Logs) == 0 {
			return fmt.Errorf("no logs defined for %s", container)
		}
		if name == "" {
			fmt.Fprintf(stdout, "Logs defined for %s:\n", container)
			for _, l := range m.Logs {
				fmt.Fprintf(stdout, "  %-20s %s\n", l.Name, l.Path)
			}
			return nil
		}

		entry, ok := findLog(m.Logs, name)
		if !ok {
			names := make([]string, len(m.Logs))
			for i, l := range m.Logs {
				names[i] = l.Name
			}
			return fmt.Errorf("log %q is not defined for %s (available: %s)", name, container, strings.Join(names, ", "))
		}

		if lines <= 0 {
			lines = DefaultLogLines
		}
		argv := []string{"tail", "-n", strconv.Itoa(lines)}
		if follow {
			argv = append(argv, "-f")
		}
		argv = append(argv, entry.Path)

		h := lxd.Handle{Name: m.Name, OS: m.OS, Version: m.Version}
		_, err = a.runtime.Exec(ctx, h, lxd.ExecOptions{Command: argv, Stdout: stdout, Stderr: stderr})
		return err
	})
}

func findLog(logs []config.LogEntry, name string) (config.LogEntry, bool) {
	for _, l := range logs {
		if l.Name == name {
			return l, true
		}
	}
	return config.LogEntry{}, false
}
