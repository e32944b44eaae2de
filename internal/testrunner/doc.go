// Package testrunner executes the point-in-time tests declared by composed
// containers.
//
// Three kinds run in a fixed order:
//
//   - internal: the script is copied into the container and run with sh
//   - external: the script runs on the host with CONTAINER_NAME and
//     CONTAINER_IP set
//   - port_forwarding: like external, preceded by a check that every
//     firewall rule the container should own is live
//
// Scripts contributed by a library include are read from the spec store
// under the include's directory. Local scripts resolve against the compose
// file's directory; a leading /app/ maps to that directory as well, since
// it is where the project is mounted in the container.
//
// A failing test never stops the remaining tests or containers. Failures
// are collected into a Summary.
package testrunner
