package lifecycle

import (
	"context"

	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/platform/lxd"
	"github.com/imamik/lxc-compose/internal/provisioning"
)

// StateAbsent marks a document container the runtime does not know.
const StateAbsent lxd.State = "Absent"

// Status is one row of the container listing.
type Status struct {
	Name       string    `json:"name"`
	State      lxd.State `json:"state"`
	IPv4       []string  `json:"ipv4,omitempty"`
	Ports      []int     `json:"ports,omitempty"`
	Forwards   []int     `json:"forwards,omitempty"`
	InDocument bool      `json:"in_document"`
	Managed    bool      `json:"managed"`
}

// List reports the containers of doc, in document order, followed by the
// other managed containers. doc may be nil.
func (r *Reconciler) List(ctx context.Context, doc *config.Document) ([]Status, error) {
	inv, err := r.inventory(ctx)
	if err != nil {
		return nil, err
	}
	managed, err := r.managed(inv)
	if err != nil {
		return nil, err
	}
	isManaged := make(map[string]bool, len(managed))
	for _, n := range managed {
		isManaged[n] = true
	}

	forwards := r.liveForwards(ctx)

	var rows []Status
	seen := map[string]bool{}
	add := func(name string, inDoc bool) error {
		if seen[name] {
			return nil
		}
		seen[name] = true
		row := Status{Name: name, State: StateAbsent, InDocument: inDoc, Managed: isManaged[name]}
		if ct, ok := inv[name]; ok {
			row.State = ct.Status
			row.IPv4 = ct.IPv4
		}
		rec, ok, err := r.Records.Get(name)
		if err != nil {
			return err
		}
		if ok {
			row.Ports = rec.Ports
		}
		row.Forwards = forwards[name]
		rows = append(rows, row)
		return nil
	}

	if doc != nil {
		for _, n := range doc.Names() {
			if err := add(n, true); err != nil {
				return nil, err
			}
		}
	}
	for _, n := range managed {
		if err := add(n, false); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// liveForwards maps container names to the host ports of their live DNAT
// rules. An unreadable firewall only costs the column.
func (r *Reconciler) liveForwards(ctx context.Context) map[string][]int {
	st, err := r.Network.State(ctx)
	if err != nil {
		provisioning.LogWarning(r.Observer, provisioning.PhaseNetwork, "", "cannot read firewall rules: %v", err)
		return nil
	}
	out := map[string][]int{}
	for _, fwd := range st.PortForwards() {
		if fwd.Owner != "" {
			out[fwd.Owner] = append(out[fwd.Owner], fwd.HostPort)
		}
	}
	return out
}
