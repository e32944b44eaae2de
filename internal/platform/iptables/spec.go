package iptables

import (
	"net/netip"
	"strconv"
)

// SpecBuilder assembles a rulespec in the token order iptables prints it
// back, so listed rules compare equal to the ones we inserted.
type SpecBuilder struct {
	src, dst string
	proto    string
	dport    int
	ctstate  string
	comment  string
	jump     string
	toDest   string
}

// NewSpec starts an empty rulespec.
func NewSpec() *SpecBuilder {
	return &SpecBuilder{}
}

// Source matches packets from addr.
func (b *SpecBuilder) Source(addr netip.Addr) *SpecBuilder {
	b.src = addr.String() + "/32"
	return b
}

// Destination matches packets to addr.
func (b *SpecBuilder) Destination(addr netip.Addr) *SpecBuilder {
	b.dst = addr.String() + "/32"
	return b
}

// TCPPort matches TCP packets to port.
func (b *SpecBuilder) TCPPort(port int) *SpecBuilder {
	b.proto = "tcp"
	b.dport = port
	return b
}

// State matches conntrack states, e.g. "RELATED,ESTABLISHED".
func (b *SpecBuilder) State(states string) *SpecBuilder {
	b.ctstate = states
	return b
}

// Comment tags the rule.
func (b *SpecBuilder) Comment(c string) *SpecBuilder {
	b.comment = c
	return b
}

// Jump sets the target.
func (b *SpecBuilder) Jump(target string) *SpecBuilder {
	b.jump = target
	return b
}

// DNAT rewrites the destination to addr:port.
func (b *SpecBuilder) DNAT(addr netip.Addr, port int) *SpecBuilder {
	b.jump = "DNAT"
	b.toDest = addr.String() + ":" + strconv.Itoa(port)
	return b
}

// Build returns the rulespec tokens.
func (b *SpecBuilder) Build() []string {
	var spec []string
	if b.src != "" {
		spec = append(spec, "-s", b.src)
	}
	if b.dst != "" {
		spec = append(spec, "-d", b.dst)
	}
	if b.proto != "" {
		spec = append(spec, "-p", b.proto, "-m", b.proto, "--dport", strconv.Itoa(b.dport))
	}
	if b.ctstate != "" {
		spec = append(spec, "-m", "conntrack", "--ctstate", b.ctstate)
	}
	if b.comment != "" {
		spec = append(spec, "-m", "comment", "--comment", b.comment)
	}
	if b.jump != "" {
		spec = append(spec, "-j", b.jump)
	}
	if b.toDest != "" {
		spec = append(spec, "--to-destination", b.toDest)
	}
	return spec
}
