package state

import (
	"fmt"
	"net/netip"

	"github.com/imamik/lxc-compose/internal/util/netutil"
)

// Allocator hands out container addresses from a pool.
type Allocator struct {
	pool  netip.Prefix
	store *Store
}

// NewAllocator creates an allocator for cidr backed by store.
func NewAllocator(cidr string, store *Store) (*Allocator, error) {
	pool, err := netutil.ParsePool(cidr)
	if err != nil {
		return nil, err
	}
	return &Allocator{pool: pool, store: store}, nil
}

// Pool returns the address pool.
func (a *Allocator) Pool() netip.Prefix {
	return a.pool
}

// Allocate returns the address for name: the recorded one when it is still
// a host of the pool and not claimed by someone else, otherwise the next
// free address. inUse lists addresses the runtime reports for other
// containers.
func (a *Allocator) Allocate(name string, inUse []string) (netip.Addr, error) {
	records, err := a.store.Load()
	if err != nil {
		return netip.Addr{}, err
	}

	used := make(map[netip.Addr]bool)
	for other, rec := range records {
		if other == name {
			continue
		}
		if addr, err := netip.ParseAddr(rec.IP); err == nil {
			used[addr] = true
		}
	}
	for _, ip := range inUse {
		if addr, err := netip.ParseAddr(ip); err == nil {
			used[addr] = true
		}
	}

	if rec, ok := records[name]; ok {
		if addr, err := netip.ParseAddr(rec.IP); err == nil && netutil.IsHost(a.pool, addr) && !used[addr] {
			return addr, nil
		}
	}

	addr, err := netutil.NextFreeHost(a.pool, used)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("cannot allocate address for %s: %w", name, err)
	}
	return addr, nil
}
