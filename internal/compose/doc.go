// Package compose merges a container's template, library includes and local
// definition into one resolved configuration.
//
// Layers are applied in order (template, each include in document order,
// local) with field-specific rules:
//
//   - packages, exposed_ports: appended, first occurrence kept
//   - environment, services: shallow merge, later layer wins per key
//   - init_commands, post_install: concatenated, each tagged with its layer
//   - tests: union per kind, each entry keeps its source and library path
//   - mounts: appended, a later mount for the same target replaces the earlier
//   - logs: appended, a later log with the same name replaces the earlier
//
// Composition reads only from the [specstore.Store] and is deterministic.
package compose
