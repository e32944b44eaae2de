package network

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"github.com/imamik/lxc-compose/internal/metrics"
	"github.com/imamik/lxc-compose/internal/platform/iptables"
	"github.com/imamik/lxc-compose/internal/provisioning"
)

// History returns every address a container has been allocated.
// *state.Store implements it.
type History interface {
	KnownIPs(name string) ([]string, error)
}

// Reconciler applies the cleanup-then-create algorithm against a Table.
type Reconciler struct {
	table    iptables.Table
	history  History
	observer provisioning.Observer
	metrics  *metrics.Recorder

	mu sync.Mutex
}

// NewReconciler creates a reconciler. observer and rec may be nil.
func NewReconciler(table iptables.Table, history History, observer provisioning.Observer, rec *metrics.Recorder) *Reconciler {
	if observer == nil {
		observer = provisioning.NewConsoleObserver()
	}
	return &Reconciler{
		table:    table,
		history:  history,
		observer: observer,
		metrics:  rec,
	}
}

// State lists the live rules of the managed chains.
func (r *Reconciler) State(ctx context.Context) (*NetworkState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &NetworkState{}
	for _, c := range chains {
		rules, err := iptables.ListRules(r.table, c.table, c.chain)
		if err != nil {
			return nil, err
		}
		s.Rules = append(s.Rules, rules...)
	}
	return s, nil
}

// Reconcile replaces a container's rules with ones bound to ip.
// Re-running it on an unchanged container leaves the rule set unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, container string, ip netip.Addr, ports []int) error {
	if !ip.Is4() {
		return &NetworkReconcileError{Container: container, Op: OpInsert, Err: fmt.Errorf("invalid address %q", ip)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.State(ctx)
	if err != nil {
		return &NetworkReconcileError{Container: container, Op: OpList, Err: err}
	}
	known, err := r.knownIPs(container, ip)
	if err != nil {
		return &NetworkReconcileError{Container: container, Op: OpList, Err: err}
	}

	stale := r.cleanupSet(current, container, known)
	desired := Desired(container, ip, ports)

	if sameRules(stale, desired) {
		r.observer.Event(provisioning.Event{
			Type:     provisioning.EventResourceExists,
			Phase:    provisioning.PhaseNetwork,
			Resource: container,
			Message:  fmt.Sprintf("%d firewall rules already in place", len(desired)),
		})
		return nil
	}

	if err := r.deleteRules(ctx, container, stale); err != nil {
		return err
	}
	if err := r.insertRules(ctx, container, desired); err != nil {
		return err
	}

	provisioning.LogResourceCreated(r.observer, provisioning.PhaseNetwork, "firewall rules", container, ip.String())
	return nil
}

// Purge performs only the deletion half of Reconcile: every rule in the
// container's cleanup set goes, nothing is inserted.
func (r *Reconciler) Purge(ctx context.Context, container string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.State(ctx)
	if err != nil {
		return &NetworkReconcileError{Container: container, Op: OpList, Err: err}
	}
	known, err := r.knownIPs(container, netip.Addr{})
	if err != nil {
		return &NetworkReconcileError{Container: container, Op: OpList, Err: err}
	}

	stale := r.cleanupSet(current, container, known)
	if len(stale) == 0 {
		return nil
	}
	provisioning.LogResourceDeleting(r.observer, provisioning.PhaseNetwork, "firewall rules", container)
	if err := r.deleteRules(ctx, container, stale); err != nil {
		return err
	}
	provisioning.LogResourceDeleted(r.observer, provisioning.PhaseNetwork, "firewall rules", container)
	return nil
}

// Status compares the live rules against the desired set for a container.
type Status struct {
	Present []iptables.Rule
	Missing []iptables.Rule

	// Extra are rules tagged for the container that the desired set does
	// not contain, left over from a different address or port list.
	Extra []iptables.Rule

	// Conflicting are rules tagged for other containers that still name
	// the container's address.
	Conflicting []iptables.Rule

	// Forwards are the container's live DNAT rules.
	Forwards []PortForwardRule
}

// OK reports whether the live rules match the desired set exactly.
func (s *Status) OK() bool {
	return len(s.Missing) == 0 && len(s.Extra) == 0 && len(s.Conflicting) == 0
}

// Status checks which of a container's desired rules are live.
func (r *Reconciler) Status(ctx context.Context, container string, ip netip.Addr, ports []int) (*Status, error) {
	current, err := r.State(ctx)
	if err != nil {
		return nil, &NetworkReconcileError{Container: container, Op: OpList, Err: err}
	}
	desired := Desired(container, ip, ports)
	st := &Status{}
	for _, want := range desired {
		if current.Contains(want) {
			st.Present = append(st.Present, want)
		} else {
			st.Missing = append(st.Missing, want)
		}
	}
	for _, rule := range current.Owned(container) {
		if !slices.ContainsFunc(desired, rule.Equal) {
			st.Extra = append(st.Extra, rule)
		}
	}
	for _, rule := range current.Referencing(ip) {
		if owner, _ := rule.Owner(); owner != "" && owner != container {
			st.Conflicting = append(st.Conflicting, rule)
		}
	}
	for _, fwd := range current.PortForwards() {
		if fwd.Owner == container {
			st.Forwards = append(st.Forwards, fwd)
		}
	}
	return st, nil
}

func (r *Reconciler) knownIPs(container string, current netip.Addr) ([]netip.Addr, error) {
	var recorded []string
	if r.history != nil {
		var err error
		recorded, err = r.history.KnownIPs(container)
		if err != nil {
			return nil, err
		}
	}
	known, err := parseAddrs(recorded)
	if err != nil {
		return nil, err
	}
	if current.IsValid() && !slices.Contains(known, current) {
		known = append(known, current)
	}
	return known, nil
}

// cleanupSet selects the rules to delete before inserting fresh ones:
// rules tagged for container, legacy lxc-compose rules naming one of its
// addresses, and uncommented DNAT rules forwarding to one of its addresses.
// A tag naming another container always wins over an address match; those
// rules are kept and reported. Other uncommented rules are never touched.
func (r *Reconciler) cleanupSet(s *NetworkState, container string, known []netip.Addr) []iptables.Rule {
	var out []iptables.Rule
	for _, rule := range s.Rules {
		owner, managed := rule.Owner()
		switch {
		case owner == container:
			out = append(out, rule)
		case owner != "":
			if referencesAny(rule, known) {
				provisioning.LogWarning(r.observer, provisioning.PhaseNetwork, container,
					"keeping rule tagged for %s that references an address of %s: %s", owner, container, rule)
			}
		case managed && referencesAny(rule, known):
			out = append(out, rule)
		case rule.Comment() == "" && forwardsToAny(rule, known):
			out = append(out, rule)
		}
	}
	return out
}

func (r *Reconciler) deleteRules(ctx context.Context, container string, rules []iptables.Rule) error {
	deleted := 0
	defer func() { r.metrics.RulesChanged(container, "delete", deleted) }()
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return &NetworkReconcileError{Container: container, Op: OpDelete, Err: err}
		}
		if err := r.table.Delete(rule.Table, rule.Chain, rule.Spec...); err != nil {
			return &NetworkReconcileError{Container: container, Op: OpDelete, Err: fmt.Errorf("%s: %w", rule, err)}
		}
		deleted++
	}
	return nil
}

// insertRules inserts each chain's rules at positions 1..n so they precede
// any rule already present.
func (r *Reconciler) insertRules(ctx context.Context, container string, rules []iptables.Rule) error {
	inserted := 0
	defer func() { r.metrics.RulesChanged(container, "insert", inserted) }()
	pos := map[string]int{}
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return &NetworkReconcileError{Container: container, Op: OpInsert, Err: err}
		}
		k := rule.Table + "/" + rule.Chain
		pos[k]++
		if err := r.table.Insert(rule.Table, rule.Chain, pos[k], rule.Spec...); err != nil {
			return &NetworkReconcileError{Container: container, Op: OpInsert, Err: fmt.Errorf("%s: %w", rule, err)}
		}
		inserted++
	}
	return nil
}

func forwardsToAny(rule iptables.Rule, addrs []netip.Addr) bool {
	dest, ok := rule.DNATDestination()
	return ok && slices.Contains(addrs, dest)
}

func referencesAny(rule iptables.Rule, addrs []netip.Addr) bool {
	for _, a := range addrs {
		if rule.References(a) {
			return true
		}
	}
	return false
}

// sameRules reports whether live and desired hold the same rules, ignoring
// order across chains but requiring chain-relative order to match.
func sameRules(live, desired []iptables.Rule) bool {
	if len(live) != len(desired) {
		return false
	}
	byChain := func(rules []iptables.Rule) map[string][]iptables.Rule {
		m := map[string][]iptables.Rule{}
		for _, r := range rules {
			k := r.Table + "/" + r.Chain
			m[k] = append(m[k], r)
		}
		return m
	}
	a, b := byChain(live), byChain(desired)
	if len(a) != len(b) {
		return false
	}
	for k, rs := range a {
		if !slices.EqualFunc(rs, b[k], iptables.Rule.Equal) {
			return false
		}
	}
	return true
}
