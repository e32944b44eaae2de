// Package supervisor renders supervisord program definitions for the
// services of a container and installs them through the runtime.
package supervisor
