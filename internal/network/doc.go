// Package network keeps each container's firewall exposure in step with its
// current address.
//
// Every container gets a DNAT rule in nat/PREROUTING per exposed port and a
// block of filter/FORWARD rules: established traffic back to the container,
// one ACCEPT per exposed port, an egress ACCEPT and a final DROP. All rules
// carry the comment tag "lxc-compose:<container>".
//
// Reconcile always runs cleanup before create. Cleanup removes rules tagged
// for the container and untagged or legacy rules that point at any address
// the container has held, so a container recreated with a new address never
// leaves rules bound to the old one.
package network
