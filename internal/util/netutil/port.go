// Package netutil provides container address-pool helpers.
package netutil

import (
	"fmt"
	"net/netip"
)

// ParsePool parses an IPv4 CIDR used as a container address pool.
func ParsePool(cidr string) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR prefix: %w", err)
	}
	if !prefix.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("only IPv4 pools are supported, got %s", cidr)
	}
	if prefix.Bits() > 30 {
		return netip.Prefix{}, fmt.Errorf("pool %s is too small", cidr)
	}
	return prefix.Masked(), nil
}

// NextFreeHost returns the first address of pool not in used. The network
// address, the gateway (first host) and the broadcast address are never
// handed out.
func NextFreeHost(pool netip.Prefix, used map[netip.Addr]bool) (netip.Addr, error) {
	network := pool.Masked().Addr()
	gateway := network.Next()
	for addr := gateway.Next(); pool.Contains(addr); addr = addr.Next() {
		if !pool.Contains(addr.Next()) {
			// broadcast
			break
		}
		if !used[addr] {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("address pool %s exhausted", pool)
}

// IsHost reports whether addr is an assignable host address of pool.
func IsHost(pool netip.Prefix, addr netip.Addr) bool {
	if !pool.Contains(addr) {
		return false
	}
	network := pool.Masked().Addr()
	return addr != network && addr != network.Next() && pool.Contains(addr.Next())
}
