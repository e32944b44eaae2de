// Package lxd drives LXD or Incus containers through their command line
// clients ("lxc" or "incus").
//
// Runtime is the interface the lifecycle reconciler consumes. Client
// implements it by shelling out through a Runner, which tests replace to
// assert on argv without a container host. Commands are always passed as
// argument vectors and never through a host shell.
package lxd
