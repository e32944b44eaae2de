// Package config defines the compose document model and the runtime settings
// shared by every lxc-compose subsystem.
//
// A [Document] is parsed from an lxc-compose.yml file (after `.env`
// expansion) into ordered [ContainerSpec] values. [Settings] carries the host
// paths, subnet and timeouts, resolved from environment variables with
// defaults so that tests can point every path at a temporary directory.
package config
