// Package state persists the IP allocation record (container-ips.json) and
// guards host-level state with a process-wide file lock.
//
// The record is the only durable state lxc-compose keeps. It maps container
// names to their address and exposed ports and remembers addresses a name
// held before, so firewall rules left pointing at an old address can be
// found after the container is recreated.
package state
