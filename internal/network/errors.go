package network

import "fmt"

// Firewall operations reported in NetworkReconcileError.
const (
	OpList   = "list"
	OpDelete = "delete"
	OpInsert = "insert"
)

// NetworkReconcileError reports a failed firewall mutation. It is always
// fatal for the container being reconciled.
type NetworkReconcileError struct {
	Container string
	Op        string
	Err       error
}

func (e *NetworkReconcileError) Error() string {
	return fmt.Sprintf("network reconcile for %s failed to %s rules: %v", e.Container, e.Op, e.Err)
}

func (e *NetworkReconcileError) Unwrap() error {
	return e.Err
}
