// Package packages installs OS packages inside containers with mirror
// rotation.
//
// Installer runs an explicit state machine over (attempt, mirrorIndex,
// elapsed, dnsRetried). Each failed attempt is classified from the package
// manager's output:
//
//   - timeout-class failures rotate to the next mirror at once;
//   - DNS-class failures wait briefly and retry the same mirror once;
//   - anything else backs off exponentially up to MaxRetries, then rotates.
//
// When every mirror is exhausted the installer logs a PackageInstallWarning
// and returns nil so provisioning can continue.
package packages
