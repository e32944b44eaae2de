package lifecycle

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/imamik/lxc-compose/internal/provisioning"
)

// UpAll starts every managed container and repairs its hosts entry and
// firewall rules from the allocation record. Nothing is created.
func (r *Reconciler) UpAll(ctx context.Context) error {
	inv, err := r.inventory(ctx)
	if err != nil {
		return err
	}
	names, err := r.managed(inv)
	if err != nil {
		return err
	}
	if err := r.Hosts.Ensure(); err != nil {
		return err
	}

	var errs []error
	for _, name := range names {
		if _, ok := inv[name]; !ok {
			continue
		}
		start := time.Now()
		err := r.resync(ctx, name, inv)
		r.record(name, "up", start, err)
		if err != nil {
			provisioning.LogResourceFailed(r.Observer, "up", "container", name, err)
			errs = append(errs, err)
		}
	}
	r.countManaged(ctx)
	return errors.Join(errs...)
}

// resync starts name if needed and reapplies hosts and network state using
// the recorded ports.
func (r *Reconciler) resync(ctx context.Context, name string, inv inventory) error {
	rec, _, err := r.Records.Get(name)
	if err != nil {
		return err
	}
	pctx := provisioning.NewContext(ctx, name, r.Settings, r.Observer)
	var ip netip.Addr

	return provisioning.NewPipeline(
		provisioning.NewPhase(provisioning.PhaseCreate, func(pc *provisioning.Context) error {
			ct := inv[name]
			if !ct.Running() {
				if err := r.Runtime.Start(pc, name); err != nil {
					return &ProvisionError{Kind: StartTimeout, Container: name, Err: err}
				}
				running, err := r.waitRunning(pc, name)
				if err != nil {
					return err
				}
				ct = *running
			}
			addr, err := r.waitAddress(pc, &ct, rec.IP)
			ip = addr
			return err
		}),
		provisioning.NewPhase(provisioning.PhaseHosts, func(pc *provisioning.Context) error {
			return r.hostsFiles().Set(name, ip.String())
		}),
		provisioning.NewPhase(provisioning.PhaseNetwork, func(pc *provisioning.Context) error {
			if err := r.Network.Reconcile(pc, name, ip, rec.Ports); err != nil {
				return err
			}
			return r.Records.Save(name, ip.String(), rec.Ports)
		}),
	).Run(pctx)
}

// DownAll stops every managed container.
func (r *Reconciler) DownAll(ctx context.Context) error {
	inv, err := r.inventory(ctx)
	if err != nil {
		return err
	}
	names, err := r.managed(inv)
	if err != nil {
		return err
	}
	return r.stopAll(ctx, Reverse(names), inv, "down")
}

// DestroyAll destroys every managed container, including records whose
// container is already gone.
func (r *Reconciler) DestroyAll(ctx context.Context) error {
	inv, err := r.inventory(ctx)
	if err != nil {
		return err
	}
	names, err := r.managed(inv)
	if err != nil {
		return err
	}
	return r.destroyAll(ctx, Reverse(names), inv)
}
