// Package provisioning provides the shared types that drive a container
// through its provisioning steps.
//
// # Core Types
//
// Context carries the per-container state, settings and observer.
// Phase defines a provisioning step with Name() and Provision() methods.
// Pipeline runs phases in order; Soft and OnCreate adapt how individual
// phases participate.
//
// Observer is the structured logging surface used across lxc-compose. The
// console implementation is backed by github.com/charmbracelet/log.
package provisioning
