package provisioning

import (
	"fmt"
	"time"
)

// Pipeline is an ordered list of phases.
type Pipeline struct {
	Phases []Phase
}

// NewPipeline creates a pipeline from phases.
func NewPipeline(phases ...Phase) *Pipeline {
	return &Pipeline{Phases: phases}
}

// Run executes the pipeline's phases.
func (p *Pipeline) Run(ctx *Context) error {
	return RunPhases(ctx, p.Phases)
}

// RunPhases executes all provisioning phases sequentially and stops at the
// first error. Context cancellation is checked between phases.
func RunPhases(ctx *Context, phases []Phase) error {
	start := time.Now()

	for _, phase := range phases {
		if ctx.Context != nil {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%s phase not started: %w", phase.Name(), err)
			}
		}

		phaseStart := time.Now()
		LogPhaseStart(ctx.Observer, phase.Name())

		if err := phase.Provision(ctx); err != nil {
			LogPhaseFailed(ctx.Observer, phase.Name(), err)
			return fmt.Errorf("%s phase failed: %w", phase.Name(), err)
		}

		LogPhaseComplete(ctx.Observer, phase.Name(), time.Since(phaseStart))
	}

	ctx.Observer.Printf("provisioned in %v", time.Since(start).Round(time.Millisecond))
	return nil
}

type softPhase struct {
	Phase
}

// Soft wraps a phase so its failure is logged as a warning, recorded in
// State.Warnings, and does not stop the pipeline.
func Soft(p Phase) Phase {
	return softPhase{Phase: p}
}

func (s softPhase) Provision(ctx *Context) error {
	if err := s.Phase.Provision(ctx); err != nil {
		LogWarning(ctx.Observer, s.Name(), ctx.Container, "%v", err)
		if ctx.State != nil {
			ctx.State.Warnings = append(ctx.State.Warnings, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	return nil
}

type onCreatePhase struct {
	Phase
}

// OnCreate wraps a phase so it only runs when State.Created is set.
func OnCreate(p Phase) Phase {
	return onCreatePhase{Phase: p}
}

func (o onCreatePhase) Provision(ctx *Context) error {
	if ctx.State == nil || !ctx.State.Created {
		ctx.Observer.Event(Event{
			Type:     EventResourceExists,
			Phase:    o.Name(),
			Resource: ctx.Container,
			Message:  "skipped, container already existed",
		})
		return nil
	}
	return o.Phase.Provision(ctx)
}
