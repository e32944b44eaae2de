package handlers

import (
	"context"

	"github.com/imamik/lxc-compose/internal/platform/lxd"
)

// Exec handles the exec command. Without a command it opens the container's
// shell: sh on Alpine, bash otherwise.
func Exec(ctx context.Context, opts Options, container string, command []string) error {
	return withApp(ctx, opts, readOnly, func(a *app) error {
		h := lxd.Handle{Name: container}
		if doc, err := loadDocument(opts); err == nil {
			if m, err := composeOne(ctx, doc, a.library, container); err == nil {
				h.OS, h.Version = m.OS, m.Version
			}
		}
		if _, err := a.runtime.Get(ctx, container); err != nil {
			return err
		}

		if len(command) == 0 {
			command = []string{h.Shell()}
		}
		_, err := a.runtime.Exec(ctx, h, lxd.ExecOptions{
			Command: command,
			Stdin:   stdin,
			Stdout:  stdout,
			Stderr:  stderr,
		})
		return err
	})
}
