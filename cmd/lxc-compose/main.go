// Package main is the entry point for the lxc-compose CLI.
//
// lxc-compose provisions LXC/LXD/Incus containers from a declarative
// compose file: it merges templates and library services into each
// container's configuration, creates and starts containers in dependency
// order, installs packages, keeps hosts files and port forwarding rules in
// sync, and runs point-in-time tests.
//
// Commands: up, down, start, stop, destroy, list, test, logs, exec, config.
//
// For detailed usage information, run:
//
//	lxc-compose --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/lxc-compose/cmd/lxc-compose/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
