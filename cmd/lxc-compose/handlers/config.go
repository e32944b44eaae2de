package handlers

import (
	"context"
	"fmt"

	"github.com/imamik/lxc-compose/internal/compose"
)

// Config handles the config command: it prints the merged configuration of
// one container, or of every container in the compose file.
func Config(ctx context.Context, opts Options, container string) error {
	doc, err := loadDocument(opts)
	if err != nil {
		return err
	}

	settings := loadSettings()
	library, err := openLibrary(ctx, settings)
	if err != nil {
		library = unavailableLibrary{err: fmt.Errorf("failed to open spec store: %w", err)}
	}

	var merged []*compose.Merged
	if container != "" {
		m, err := composeOne(ctx, doc, library, container)
		if err != nil {
			return err
		}
		merged = append(merged, m)
	} else {
		merged, err = compose.All(ctx, doc, library)
		if err != nil {
			return err
		}
	}

	for i, m := range merged {
		out, err := m.YAML()
		if err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintln(stdout, "---")
		}
		if _, err := stdout.Write(out); err != nil {
			return err
		}
	}
	return nil
}
