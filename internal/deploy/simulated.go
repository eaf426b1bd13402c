package deploy

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SimulatedRuntime keeps deployments in memory without running anything.
type SimulatedRuntime struct {
	mu      sync.Mutex
	running map[string]Spec
	lg      zerolog.Logger
}

// NewSimulatedRuntime returns an empty simulated runtime.
func NewSimulatedRuntime(lg zerolog.Logger) *SimulatedRuntime {
	return &SimulatedRuntime{
		running: make(map[string]Spec),
		lg:      lg.With().Str("runtime", KindSimulated).Logger(),
	}
}

func (r *SimulatedRuntime) Start(ctx context.Context, spec Spec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := "sim-" + uuid.New().String()

	r.mu.Lock()
	r.running[ref] = spec
	r.mu.Unlock()

	r.lg.Info().Str("ref", ref).Str("component", spec.Name).Msg("component started")
	return ref, nil
}

func (r *SimulatedRuntime) Stop(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	_, ok := r.running[ref]
	delete(r.running, ref)
	r.mu.Unlock()

	if ok {
		r.lg.Info().Str("ref", ref).Msg("component stopped")
	}
	return nil
}

// Running returns the spec of a running unit.
func (r *SimulatedRuntime) Running(ref string) (Spec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.running[ref]
	return s, ok
}

// Len returns the number of running units.
func (r *SimulatedRuntime) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
