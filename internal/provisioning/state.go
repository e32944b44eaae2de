package provisioning

// State holds the per-container results of provisioning phases.
// It is progressively populated as each phase completes.
type State struct {
	// Created is set when this run created the container.
	Created bool

	// IP is the allocated address.
	IP string

	// Ports are the exposed ports after composition.
	Ports []int

	// Warnings collects soft failures for the final summary.
	Warnings []string
}

// NewState creates an empty provisioning state.
func NewState() *State {
	return &State{}
}
