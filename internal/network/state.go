package network

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/imamik/lxc-compose/internal/platform/iptables"
	"github.com/imamik/lxc-compose/internal/util/labels"
)

// chains the reconciler reads and writes.
var chains = []struct{ table, chain string }{
	{iptables.TableNAT, iptables.ChainPrerouting},
	{iptables.TableFilter, iptables.ChainForward},
}

// PortForwardRule is a DNAT rule exposing a container port on the host.
type PortForwardRule struct {
	HostPort      int
	ContainerIP   netip.Addr
	ContainerPort int
	Protocol      string
	Owner         string
}

// NetworkState is a snapshot of the live rules in the chains lxc-compose
// manages, in listing order.
type NetworkState struct {
	Rules []iptables.Rule
}

// Owned returns the rules tagged for container.
func (s *NetworkState) Owned(container string) []iptables.Rule {
	var out []iptables.Rule
	for _, r := range s.Rules {
		if owner, _ := r.Owner(); owner == container {
			out = append(out, r)
		}
	}
	return out
}

// Referencing returns the rules that name addr.
func (s *NetworkState) Referencing(addr netip.Addr) []iptables.Rule {
	var out []iptables.Rule
	for _, r := range s.Rules {
		if r.References(addr) {
			out = append(out, r)
		}
	}
	return out
}

// Contains reports whether an identical rule is live.
func (s *NetworkState) Contains(rule iptables.Rule) bool {
	return slices.ContainsFunc(s.Rules, rule.Equal)
}

// PortForwards returns the DNAT rules as PortForwardRules.
func (s *NetworkState) PortForwards() []PortForwardRule {
	var out []PortForwardRule
	for _, r := range s.Rules {
		if r.Table != iptables.TableNAT || r.Target() != "DNAT" {
			continue
		}
		dest := r.Value("--to-destination")
		host, port, ok := strings.Cut(dest, ":")
		if !ok {
			continue
		}
		addr, err := netip.ParseAddr(host)
		if err != nil {
			continue
		}
		cport, err := strconv.Atoi(port)
		if err != nil {
			continue
		}
		owner, _ := r.Owner()
		out = append(out, PortForwardRule{
			HostPort:      r.DestinationPort(),
			ContainerIP:   addr,
			ContainerPort: cport,
			Protocol:      r.Value("-p"),
			Owner:         owner,
		})
	}
	return out
}

// Desired returns the rules a container should have, grouped by chain in
// insertion order.
func Desired(container string, ip netip.Addr, ports []int) []iptables.Rule {
	tag := labels.Tag(container)
	ports = uniquePorts(ports)

	var rules []iptables.Rule
	for _, p := range ports {
		rules = append(rules, iptables.Rule{
			Table: iptables.TableNAT,
			Chain: iptables.ChainPrerouting,
			Spec:  iptables.NewSpec().TCPPort(p).Comment(tag).DNAT(ip, p).Build(),
		})
	}

	forward := func(b *iptables.SpecBuilder) iptables.Rule {
		return iptables.Rule{Table: iptables.TableFilter, Chain: iptables.ChainForward, Spec: b.Build()}
	}
	rules = append(rules, forward(iptables.NewSpec().Destination(ip).State("RELATED,ESTABLISHED").Comment(tag).Jump("ACCEPT")))
	for _, p := range ports {
		rules = append(rules, forward(iptables.NewSpec().Destination(ip).TCPPort(p).Comment(tag).Jump("ACCEPT")))
	}
	rules = append(rules,
		forward(iptables.NewSpec().Source(ip).Comment(tag).Jump("ACCEPT")),
		forward(iptables.NewSpec().Destination(ip).Comment(tag).Jump("DROP")),
	)
	return rules
}

func uniquePorts(ports []int) []int {
	seen := make(map[int]bool, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func parseAddrs(ips []string) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(ips))
	for _, s := range ips {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid recorded address %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
