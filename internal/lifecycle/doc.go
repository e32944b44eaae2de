// Package lifecycle brings the containers of a compose document up, down
// and out of existence in dependency order.
//
// Up composes every container before touching the runtime, so structural
// errors (unknown templates, dependency cycles) abort without side effects.
// Each container is then provisioned through a provisioning.Pipeline:
//
//	create -> packages -> commands -> hosts -> network -> services
//
// Packages, commands and services only run when this invocation created
// the container; hosts and network always run so drift is repaired on
// every Up. A container whose provisioning fails skips its dependents,
// while independent branches continue.
package lifecycle
