package lifecycle

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/hosts"
	"github.com/imamik/lxc-compose/internal/metrics"
	"github.com/imamik/lxc-compose/internal/network"
	"github.com/imamik/lxc-compose/internal/packages"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
	"github.com/imamik/lxc-compose/internal/specstore"
	"github.com/imamik/lxc-compose/internal/state"
	"github.com/imamik/lxc-compose/internal/supervisor"
	"github.com/imamik/lxc-compose/internal/util/labels"
	"github.com/imamik/lxc-compose/internal/util/retry"
)

// Deps are the collaborators of a Reconciler.
type Deps struct {
	Runtime    lxd.Runtime
	Store      specstore.Store
	Records    *state.Store
	Allocator  *state.Allocator
	Hosts      *hosts.File // Shared file mounted into containers
	System     *hosts.File // Host /etc/hosts; nil leaves it alone
	Network    *network.Reconciler
	Packages   *packages.Installer
	Supervisor *supervisor.Installer
	Settings   *config.Settings
	Observer   provisioning.Observer
	Metrics    *metrics.Recorder

	// WaitOptions tune state polling, mainly to replace sleeps in tests.
	WaitOptions []retry.Option
}

// Reconciler drives containers through their lifecycle.
type Reconciler struct {
	Deps
}

// NewReconciler validates deps and fills defaults for the optional ones.
func NewReconciler(deps Deps) (*Reconciler, error) {
	switch {
	case deps.Runtime == nil:
		return nil, fmt.Errorf("lifecycle: runtime is required")
	case deps.Records == nil:
		return nil, fmt.Errorf("lifecycle: allocation record is required")
	case deps.Network == nil:
		return nil, fmt.Errorf("lifecycle: network reconciler is required")
	case deps.Settings == nil:
		return nil, fmt.Errorf("lifecycle: settings are required")
	}
	if deps.Hosts == nil {
		deps.Hosts = hosts.NewShared(deps.Settings.SharedHosts)
	}
	if deps.Observer == nil {
		deps.Observer = provisioning.NewConsoleObserver()
	}
	if deps.Allocator == nil {
		alloc, err := state.NewAllocator(deps.Settings.Subnet, deps.Records)
		if err != nil {
			return nil, err
		}
		deps.Allocator = alloc
	}
	if deps.Packages == nil {
		deps.Packages = packages.NewInstaller(deps.Runtime, packages.PolicyFromSettings(deps.Settings.Packages),
			packages.WithObserver(deps.Observer), packages.WithMetrics(deps.Metrics))
	}
	if deps.Supervisor == nil {
		deps.Supervisor = supervisor.NewInstaller(deps.Runtime)
	}
	return &Reconciler{Deps: deps}, nil
}

// inventory is the runtime's view at the start of an operation.
type inventory map[string]lxd.Container

func (r *Reconciler) inventory(ctx context.Context) (inventory, error) {
	list, err := r.Runtime.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	inv := make(inventory, len(list))
	for _, c := range list {
		inv[c.Name] = c
	}
	return inv, nil
}

// addressesExcept returns the IPv4 addresses held by every container but name.
func (inv inventory) addressesExcept(name string) []string {
	var out []string
	for n, c := range inv {
		if n != name {
			out = append(out, c.IPv4...)
		}
	}
	return out
}

// managed returns the names of containers lxc-compose is responsible for:
// those carrying the managed-by label and those in the allocation record,
// whether or not the runtime still knows them.
func (r *Reconciler) managed(inv inventory) ([]string, error) {
	recorded, err := r.Records.Names()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	for _, n := range recorded {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for n, c := range inv {
		if labels.IsManaged(c.Config) && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}

// containerAddress picks the address of a running container: the one inside
// the pool when several are reported, else the recorded one.
func (r *Reconciler) containerAddress(ct *lxd.Container, recorded string) (netip.Addr, error) {
	pool := r.Allocator.Pool()
	var first netip.Addr
	for _, s := range ct.IPv4 {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			continue
		}
		if pool.Contains(addr) {
			return addr, nil
		}
		if !first.IsValid() {
			first = addr
		}
	}
	if first.IsValid() {
		return first, nil
	}
	if addr, err := netip.ParseAddr(recorded); err == nil {
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("container %s has no IPv4 address", ct.Name)
}

// hostsFiles returns every hosts file kept in sync.
func (r *Reconciler) hostsFiles() hosts.Files {
	files := hosts.Files{r.Hosts}
	if r.System != nil {
		files = append(files, r.System)
	}
	return files
}

// waitRunning polls until name is Running or the start timeout passes.
func (r *Reconciler) waitRunning(ctx context.Context, name string) (*lxd.Container, error) {
	ct, err := lxd.WaitForState(ctx, r.Runtime, name, lxd.StateRunning, r.Settings.Timeouts.Start, r.WaitOptions...)
	if err != nil {
		return nil, &ProvisionError{Kind: StartTimeout, Container: name, Err: err}
	}
	return ct, nil
}

// record reports one container operation to metrics.
func (r *Reconciler) record(name, op string, start time.Time, err error) {
	r.Metrics.Reconcile(name, op, err, time.Since(start).Seconds())
}

// countManaged refreshes the managed containers gauge.
func (r *Reconciler) countManaged(ctx context.Context) {
	if r.Metrics == nil {
		return
	}
	inv, err := r.inventory(ctx)
	if err != nil {
		return
	}
	names, err := r.managed(inv)
	if err != nil {
		return
	}
	r.Metrics.ContainersManaged(len(names))
}
