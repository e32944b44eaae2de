package handlers

import (
	"context"
	"fmt"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/lifecycle"
)

// Lifecycle operations accepted by Lifecycle.
const (
	OpUp      = "up"
	OpDown    = "down"
	OpStart   = "start"
	OpStop    = "stop"
	OpDestroy = "destroy"
)

type docFunc func(r *lifecycle.Reconciler, ctx context.Context, doc *config.Document, names ...string) error

type allFunc func(r *lifecycle.Reconciler, ctx context.Context) error

var operations = map[string]struct {
	doc docFunc
	all allFunc
}{
	OpUp:      {(*lifecycle.Reconciler).Up, (*lifecycle.Reconciler).UpAll},
	OpStart:   {(*lifecycle.Reconciler).Start, (*lifecycle.Reconciler).UpAll},
	OpDown:    {(*lifecycle.Reconciler).Down, (*lifecycle.Reconciler).DownAll},
	OpStop:    {(*lifecycle.Reconciler).Stop, (*lifecycle.Reconciler).DownAll},
	OpDestroy: {(*lifecycle.Reconciler).Destroy, (*lifecycle.Reconciler).DestroyAll},
}

// Lifecycle handles up, down, start, stop and destroy.
//
// With all set the operation targets every managed container regardless of
// any compose file, after the confirmation phrase has been typed. Otherwise
// it targets the named containers of the compose file, or all of them when
// no names are given.
func Lifecycle(ctx context.Context, opts Options, op string, names []string, all bool) error {
	fns, ok := operations[op]
	if !ok {
		return fmt.Errorf("unknown operation %q", op)
	}
	if all && len(names) > 0 {
		return fmt.Errorf("--all cannot be combined with container names")
	}

	if all {
		if err := confirmAll(op); err != nil {
			return err
		}
		return withApp(ctx, opts, mutating, func(a *app) error {
			return fns.all(a.reconciler, ctx)
		})
	}

	doc, err := loadDocument(opts)
	if err != nil {
		return err
	}
	return withApp(ctx, opts, mutating, func(a *app) error {
		if err := fns.doc(a.reconciler, ctx, doc, names...); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		return nil
	})
}
