package iptables

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/imamik/lxc-compose/internal/util/labels"
)

// Rule is one parsed "-A" line of a chain listing.
type Rule struct {
	Table string
	Chain string
	Spec  []string
}

// ParseRule parses a line of "iptables -S" output.
// ok is false for lines that are not rule appends, such as chain policies.
func ParseRule(table, line string) (rule Rule, ok bool, err error) {
	tokens, err := shellwords.Parse(line)
	if err != nil {
		return Rule{}, false, fmt.Errorf("failed to parse rule %q: %w", line, err)
	}
	if len(tokens) < 2 || tokens[0] != "-A" {
		return Rule{}, false, nil
	}
	return Rule{Table: table, Chain: tokens[1], Spec: tokens[2:]}, true, nil
}

// ListRules lists and parses the rules of a chain.
func ListRules(t Table, table, chain string) ([]Rule, error) {
	lines, err := t.List(table, chain)
	if err != nil {
		return nil, err
	}
	var rules []Rule
	for _, line := range lines {
		rule, ok, err := ParseRule(table, line)
		if err != nil {
			return nil, err
		}
		if ok {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Value returns the argument following flag, or "" when absent.
func (r Rule) Value(flag string) string {
	for i := 0; i < len(r.Spec)-1; i++ {
		if r.Spec[i] == flag {
			return r.Spec[i+1]
		}
	}
	return ""
}

// Comment returns the rule's comment match, if any.
func (r Rule) Comment() string {
	return r.Value("--comment")
}

// Owner returns the container named in the rule's tag.
func (r Rule) Owner() (owner string, managed bool) {
	return labels.ParseTag(r.Comment())
}

// Target returns the jump target.
func (r Rule) Target() string {
	if v := r.Value("-j"); v != "" {
		return v
	}
	return r.Value("--jump")
}

// Addresses returns every IPv4 host address the rule matches or targets.
func (r Rule) Addresses() []netip.Addr {
	var out []netip.Addr
	for _, flag := range []string{"-d", "--destination", "-s", "--source", "--to-destination"} {
		if addr, ok := hostPart(r.Value(flag)); ok {
			out = append(out, addr)
		}
	}
	return out
}

// References reports whether the rule names addr as source, destination or
// DNAT target.
func (r Rule) References(addr netip.Addr) bool {
	for _, a := range r.Addresses() {
		if a == addr {
			return true
		}
	}
	return false
}

// DNATDestination returns the address a DNAT rule forwards to.
func (r Rule) DNATDestination() (netip.Addr, bool) {
	if r.Target() != "DNAT" {
		return netip.Addr{}, false
	}
	return hostPart(r.Value("--to-destination"))
}

// DestinationPort returns the --dport value, or 0.
func (r Rule) DestinationPort() int {
	p, err := strconv.Atoi(r.Value("--dport"))
	if err != nil {
		return 0
	}
	return p
}

// Equal reports whether two rules live in the same chain with the same spec.
func (r Rule) Equal(o Rule) bool {
	if r.Table != o.Table || r.Chain != o.Chain || len(r.Spec) != len(o.Spec) {
		return false
	}
	for i := range r.Spec {
		if r.Spec[i] != o.Spec[i] {
			return false
		}
	}
	return true
}

func (r Rule) String() string {
	return fmt.Sprintf("%s/%s %s", r.Table, r.Chain, strings.Join(r.Spec, " "))
}

// hostPart extracts the address from "10.0.3.5", "10.0.3.5/32" or
// "10.0.3.5:80".
func hostPart(v string) (netip.Addr, bool) {
	if v == "" {
		return netip.Addr{}, false
	}
	if i := strings.IndexAny(v, "/:"); i >= 0 {
		v = v[:i]
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}
