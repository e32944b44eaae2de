package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/ui/tui"
)

// List handles the list command. Without a compose file it lists every
// managed container; with one, the file's containers come first.
func List(ctx context.Context, opts Options, running, stopped, asJSON bool) error {
	doc, err := loadDocument(opts)
	if err != nil {
		if opts.File != "" {
			return err
		}
		doc = nil
	}

	return withApp(ctx, opts, readOnly, func(a *app) error {
		rows, err := a.reconciler.List(ctx, doc)
		if err != nil {
			return fmt.Errorf("failed to list containers: %w", err)
		}
		rows = tui.FilterStatuses(rows, running, stopped)

		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		_, err = fmt.Fprint(stdout, tui.RenderList(listTitle(doc), rows))
		return err
	})
}

func listTitle(doc *config.Document) string {
	if doc == nil {
		return "Managed containers"
	}
	return fmt.Sprintf("Containers (%s)", doc.Path)
}
