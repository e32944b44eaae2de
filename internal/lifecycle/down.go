package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
)

// Down stops the containers of doc in reverse dependency order. Allocation
// records and firewall rules stay in place so the next Up resumes with the
// same address.
func (r *Reconciler) Down(ctx context.Context, doc *config.Document, names ...string) error {
	order, err := r.reverseOrder(doc, names)
	if err != nil {
		return err
	}
	inv, err := r.inventory(ctx)
	if err != nil {
		return err
	}
	return r.stopAll(ctx, order, inv, "down")
}

// Stop is Down.
func (r *Reconciler) Stop(ctx context.Context, doc *config.Document, names ...string) error {
	return r.Down(ctx, doc, names...)
}

// Destroy stops and deletes the containers of doc, purges their firewall
// rules, removes their hosts lines and drops their allocation records.
func (r *Reconciler) Destroy(ctx context.Context, doc *config.Document, names ...string) error {
	order, err := r.reverseOrder(doc, names)
	if err != nil {
		return err
	}
	inv, err := r.inventory(ctx)
	if err != nil {
		return err
	}
	return r.destroyAll(ctx, order, inv)
}

func (r *Reconciler) reverseOrder(doc *config.Document, names []string) ([]string, error) {
	sub, err := Select(doc, names, false)
	if err != nil {
		return nil, err
	}
	order, err := documentOrder(sub)
	if err != nil {
		return nil, err
	}
	return Reverse(order), nil
}

func (r *Reconciler) stopAll(ctx context.Context, names []string, inv inventory, op string) error {
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		start := time.Now()
		ct, ok := inv[name]
		switch {
		case !ok:
			r.Observer.Event(provisioning.Event{
				Type: provisioning.EventResourceExists, Phase: provisioning.PhaseStop,
				Resource: name, Message: "container does not exist",
			})
			continue
		case !ct.Running():
			r.Observer.Event(provisioning.Event{
				Type: provisioning.EventResourceExists, Phase: provisioning.PhaseStop,
				Resource: name, Message: "already stopped",
			})
			continue
		}

		provisioning.LogResourceDeleting(r.Observer, provisioning.PhaseStop, "container", name)
		err := r.Runtime.Stop(ctx, name)
		r.record(name, op, start, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
			continue
		}
		provisioning.LogResourceDeleted(r.Observer, provisioning.PhaseStop, "container", name)
	}
	return errors.Join(errs...)
}

func (r *Reconciler) destroyAll(ctx context.Context, names []string, inv inventory) error {
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		start := time.Now()
		err := r.destroyOne(ctx, name, inv)
		r.record(name, "destroy", start, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	r.countManaged(ctx)
	return errors.Join(errs...)
}

// destroyOne removes every trace of name. Rules are purged before the
// record is dropped because the purge needs the address history.
func (r *Reconciler) destroyOne(ctx context.Context, name string, inv inventory) error {
	obs := r.Observer.WithFields(map[string]string{"container": name})

	if ct, ok := inv[name]; ok {
		provisioning.LogResourceDeleting(obs, provisioning.PhaseDestroy, "container", name)
		if ct.Running() {
			if err := r.Runtime.Stop(ctx, name); err != nil {
				return fmt.Errorf("failed to stop %s: %w", name, err)
			}
		}
		if err := r.Runtime.Delete(ctx, name); err != nil && !errors.Is(err, lxd.ErrNotFound) {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
		delete(inv, name)
		provisioning.LogResourceDeleted(obs, provisioning.PhaseDestroy, "container", name)
	}

	if err := r.Network.Purge(ctx, name); err != nil {
		return err
	}

	var errs []error
	if err := r.hostsFiles().Remove(name); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove hosts entry of %s: %w", name, err))
	}
	if err := r.Records.Remove(name); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove allocation record of %s: %w", name, err))
	}
	return errors.Join(errs...)
}
