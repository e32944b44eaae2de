package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/imamik/lxc-compose/internal/compose"
	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
	"github.com/imamik/lxc-compose/internal/supervisor"
	"github.com/imamik/lxc-compose/internal/util/retry"
)

// Up creates, starts and provisions the containers of doc. With names,
// only those containers and their in-document dependencies are handled.
func (r *Reconciler) Up(ctx context.Context, doc *config.Document, names ...string) error {
	return r.apply(ctx, doc, names, true, "up")
}

// Start starts existing containers of doc and repairs their hosts entries
// and firewall rules. Containers that were never created are skipped.
func (r *Reconciler) Start(ctx context.Context, doc *config.Document, names ...string) error {
	return r.apply(ctx, doc, names, false, "start")
}

// plan is the composed, ordered work of an Up.
type plan struct {
	doc    *config.Document
	order  []string
	merged map[string]*compose.Merged
}

// prepare composes and orders every container before any side effect.
func (r *Reconciler) prepare(ctx context.Context, doc *config.Document, names []string) (*plan, error) {
	if r.Store == nil {
		return nil, fmt.Errorf("lifecycle: spec store is required to compose containers")
	}
	sub, err := Select(doc, names, true)
	if err != nil {
		return nil, err
	}
	order, err := documentOrder(sub)
	if err != nil {
		return nil, err
	}
	all, err := compose.All(ctx, sub, r.Store)
	if err != nil {
		return nil, err
	}
	p := &plan{doc: doc, order: order, merged: make(map[string]*compose.Merged, len(all))}
	for _, m := range all {
		p.merged[m.Name] = m
	}
	return p, nil
}

// external returns dependencies of m that the plan does not provision.
func (p *plan) external(m *compose.Merged) []string {
	var out []string
	for _, d := range m.DependsOn {
		if _, ok := p.merged[d]; !ok {
			out = append(out, d)
		}
	}
	return out
}

func (r *Reconciler) apply(ctx context.Context, doc *config.Document, names []string, allowCreate bool, op string) error {
	p, err := r.prepare(ctx, doc, names)
	if err != nil {
		return err
	}

	inv, err := r.inventory(ctx)
	if err != nil {
		return err
	}
	var missing []error
	for _, name := range p.order {
		for _, d := range p.external(p.merged[name]) {
			if _, ok := inv[d]; !ok {
				missing = append(missing, &config.ConfigError{
					Kind: config.UnknownDependency, Container: name, Field: "depends_on",
					Detail: fmt.Sprintf("%q is neither defined in the document nor an existing container", d),
				})
			}
		}
	}
	if err := errors.Join(missing...); err != nil {
		return err
	}

	if err := r.Hosts.Ensure(); err != nil {
		return fmt.Errorf("failed to prepare shared hosts file: %w", err)
	}

	failed := map[string]bool{}
	var errs []error
	for i, name := range p.order {
		r.Observer.Progress(op, i+1, len(p.order))
		m := p.merged[name]
		start := time.Now()

		if _, exists := inv[name]; !exists && !allowCreate {
			provisioning.LogWarning(r.Observer, provisioning.PhaseCreate, name, "container does not exist, run up to create it")
			continue
		}

		err := r.dependenciesReady(ctx, p, m, inv, failed)
		if err == nil {
			err = r.provision(ctx, p.doc, m, inv, allowCreate)
		}
		r.record(name, op, start, err)
		if err != nil {
			failed[name] = true
			errs = append(errs, err)
			provisioning.LogResourceFailed(r.Observer, op, "container", name, err)
		}

		if ct, getErr := r.Runtime.Get(ctx, name); getErr == nil {
			inv[name] = *ct
		}
	}

	r.countManaged(ctx)
	return errors.Join(errs...)
}

// dependenciesReady fails when a dependency failed earlier in this run and
// starts external dependencies that are stopped.
func (r *Reconciler) dependenciesReady(ctx context.Context, p *plan, m *compose.Merged, inv inventory, failed map[string]bool) error {
	for _, d := range m.DependsOn {
		if failed[d] {
			return &ProvisionError{Kind: DependencyFailed, Container: m.Name, Err: fmt.Errorf("dependency %s failed", d)}
		}
	}
	for _, d := range p.external(m) {
		if inv[d].Running() {
			continue
		}
		r.Observer.Printf("starting external dependency %s of %s", d, m.Name)
		if err := r.Runtime.Start(ctx, d); err != nil {
			return &ProvisionError{Kind: DependencyFailed, Container: m.Name, Err: fmt.Errorf("failed to start %s: %w", d, err)}
		}
		ct, err := r.waitRunning(ctx, d)
		if err != nil {
			return &ProvisionError{Kind: DependencyFailed, Container: m.Name, Err: err}
		}
		inv[d] = *ct
	}
	return nil
}

// provision runs the per-container pipeline.
func (r *Reconciler) provision(ctx context.Context, doc *config.Document, m *compose.Merged, inv inventory, allowCreate bool) error {
	pctx := provisioning.NewContext(ctx, m.Name, r.Settings, r.Observer)
	pctx.State.Ports = m.ExposedPorts
	h := lxd.Handle{Name: m.Name, OS: m.OS, Version: m.Version}
	var ip netip.Addr

	pipeline := provisioning.NewPipeline(
		provisioning.NewPhase(provisioning.PhaseCreate, func(pc *provisioning.Context) error {
			addr, err := r.ensureRunning(pc, doc, m, inv, allowCreate)
			if err != nil {
				return err
			}
			ip = addr
			pc.State.IP = addr.String()
			return nil
		}),
		provisioning.OnCreate(provisioning.Soft(provisioning.NewPhase(provisioning.PhasePackages, func(pc *provisioning.Context) error {
			return r.Packages.Install(pc, h, m.OS, m.Packages)
		}))),
		provisioning.OnCreate(provisioning.NewPhase(provisioning.PhaseCommands, func(pc *provisioning.Context) error {
			r.runCommands(pc, h, m)
			return nil
		})),
		provisioning.NewPhase(provisioning.PhaseHosts, func(pc *provisioning.Context) error {
			return r.hostsFiles().Set(m.Name, ip.String())
		}),
		provisioning.NewPhase(provisioning.PhaseNetwork, func(pc *provisioning.Context) error {
			if err := r.Network.Reconcile(pc, m.Name, ip, m.ExposedPorts); err != nil {
				return err
			}
			return r.Records.Save(m.Name, ip.String(), m.ExposedPorts)
		}),
		provisioning.OnCreate(provisioning.Soft(provisioning.NewPhase(provisioning.PhaseServices, func(pc *provisioning.Context) error {
			return r.Supervisor.Install(pc, h, supervisor.Programs(m.Services, m.Environment))
		}))),
	)
	return pipeline.Run(pctx)
}

// ensureRunning creates the container when absent, starts it when stopped
// and returns its address.
func (r *Reconciler) ensureRunning(pc *provisioning.Context, doc *config.Document, m *compose.Merged, inv inventory, allowCreate bool) (netip.Addr, error) {
	rec, _, err := r.Records.Get(m.Name)
	if err != nil {
		return netip.Addr{}, err
	}

	ct, exists := inv[m.Name]
	if !exists {
		if !allowCreate {
			return netip.Addr{}, fmt.Errorf("container %s does not exist", m.Name)
		}
		addr, err := r.Allocator.Allocate(m.Name, inv.addressesExcept(m.Name))
		if err != nil {
			return netip.Addr{}, &ProvisionError{Kind: CreateFailed, Container: m.Name, Err: err}
		}
		opts, err := r.createOptions(doc, m, addr)
		if err != nil {
			return netip.Addr{}, &ProvisionError{Kind: CreateFailed, Container: m.Name, Err: err}
		}

		provisioning.LogResourceCreating(pc.Observer, provisioning.PhaseCreate, "container", m.Name)
		if err := r.Runtime.Create(pc, m.Name, opts); err != nil {
			return netip.Addr{}, &ProvisionError{Kind: CreateFailed, Container: m.Name, Err: err}
		}
		pc.State.Created = true
		if err := r.Runtime.Start(pc, m.Name); err != nil {
			return netip.Addr{}, &ProvisionError{Kind: CreateFailed, Container: m.Name, Err: err}
		}
		running, err := r.waitRunning(pc, m.Name)
		if err != nil {
			return netip.Addr{}, err
		}
		provisioning.LogResourceCreated(pc.Observer, provisioning.PhaseCreate, "container", m.Name, addr.String())
		return r.waitAddress(pc, running, addr.String())
	}

	provisioning.LogResourceExists(pc.Observer, provisioning.PhaseCreate, "container", m.Name, string(ct.Status))
	if !ct.Running() {
		if err := r.Runtime.Start(pc, m.Name); err != nil {
			return netip.Addr{}, &ProvisionError{Kind: StartTimeout, Container: m.Name, Err: err}
		}
		running, err := r.waitRunning(pc, m.Name)
		if err != nil {
			return netip.Addr{}, err
		}
		ct = *running
	}
	return r.waitAddress(pc, &ct, rec.IP)
}

// waitAddress waits for a running container to report an IPv4 address and
// falls back to the expected one when the network timeout passes.
func (r *Reconciler) waitAddress(pc *provisioning.Context, ct *lxd.Container, expected string) (netip.Addr, error) {
	if len(ct.IPv4) > 0 || r.Settings.Timeouts.Network <= 0 {
		return r.containerAddress(ct, expected)
	}

	ctx, cancel := context.WithTimeout(pc, r.Settings.Timeouts.Network)
	defer cancel()
	latest := ct
	_ = retry.WithExponentialBackoff(ctx, func() error {
		got, err := r.Runtime.Get(ctx, ct.Name)
		if err != nil {
			return err
		}
		latest = got
		if len(got.IPv4) == 0 {
			return fmt.Errorf("%s has no address yet", ct.Name)
		}
		return nil
	}, append([]retry.Option{
		retry.WithMaxRetries(1 << 16),
		retry.WithInitialDelay(500 * time.Millisecond),
		retry.WithMaxDelay(2 * time.Second),
	}, r.WaitOptions...)...)

	if len(latest.IPv4) == 0 && expected != "" {
		provisioning.LogWarning(pc.Observer, provisioning.PhaseCreate, ct.Name, "no address reported after %v, using %s", r.Settings.Timeouts.Network, expected)
	}
	return r.containerAddress(latest, expected)
}
