package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/lxc-compose/cmd/lxc-compose/handlers"
)

// lifecycleCommand builds one of the up/down/start/stop/destroy commands.
func lifecycleCommand(opts *handlers.Options, op, short, long string) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   op + " [container...]",
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Lifecycle(cmd.Context(), *opts, op, args, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Target every managed container, not just those in the compose file (asks for confirmation)")

	return cmd
}

// Up returns the up command.
func Up(opts *handlers.Options) *cobra.Command {
	return lifecycleCommand(opts, handlers.OpUp,
		"Create, start and provision containers",
		`Up reconciles the containers of the compose file.

Containers are processed in dependency order. Missing containers are
created with an address from the pool, then packages are installed,
post-install commands run, hosts files updated, port forwarding rules
reconciled and supervisor services configured. Running it again is safe:
existing containers keep their state and rules are only changed when they
differ.

Naming containers limits the run to them and their dependencies.

Example:
  lxc-compose up
  lxc-compose up web -f stack.yml`)
}

// Down returns the down command.
func Down(opts *handlers.Options) *cobra.Command {
	return lifecycleCommand(opts, handlers.OpDown,
		"Stop containers",
		`Down stops the containers of the compose file in reverse dependency order.

Addresses and port forwarding rules are kept so that the next up restores
the same network setup.`)
}

// Start returns the start command.
func Start(opts *handlers.Options) *cobra.Command {
	return lifecycleCommand(opts, handlers.OpStart,
		"Start existing containers",
		`Start starts containers that were created before, in dependency order,
and resynchronizes hosts files and port forwarding. Containers that do not
exist yet are skipped; use up to create them.`)
}

// Stop returns the stop command.
func Stop(opts *handlers.Options) *cobra.Command {
	return lifecycleCommand(opts, handlers.OpStop,
		"Stop containers (alias of down)",
		`Stop stops the containers of the compose file in reverse dependency order.`)
}

// Destroy returns the destroy command.
func Destroy(opts *handlers.Options) *cobra.Command {
	return lifecycleCommand(opts, handlers.OpDestroy,
		"Delete containers and their network state",
		`Destroy deletes containers, removes their port forwarding rules, hosts
entries and recorded addresses.

Containers not named (or not in the compose file) are left untouched.

WARNING: This operation is irreversible. Data inside the containers is lost.`)
}
