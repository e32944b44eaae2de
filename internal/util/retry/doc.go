// Package retry provides exponential backoff retry logic for transient failures.
//
// [WithExponentialBackoff] retries an operation with configurable max attempts,
// initial delay and maximum delay. It drives the runtime state polling in the
// lifecycle reconciler and the remote library fetches. [Backoff] and
// [Schedule] expose the capped doubling sequence used by the package installer.
package retry
