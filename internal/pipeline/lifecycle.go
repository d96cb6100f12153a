package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/phrazzld/quill/internal/generation"
	"golang.org/x/sync/errgroup"
)

// Start initializes every registered generator. A generator that fails to
// initialize is logged and disabled; Start itself only fails if the pipeline
// is already running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.running.Load() {
		return fmt.Errorf("pipeline already running")
	}

	for _, reg := range p.registry.All() {
		if err := p.initialize(ctx, reg.Generator); err != nil {
			p.logger.Error("generator failed to initialize, disabling",
				"generator_id", reg.ID,
				"error", err)
			if disableErr := p.registry.SetEnabled(reg.ID, false); disableErr != nil {
				p.logger.Warn("failed to disable generator", "generator_id", reg.ID, "error", disableErr)
			}
		}
	}

	p.running.Store(true)
	p.logger.Info("pipeline started", "generators", p.registry.Len())
	return nil
}

// Stop shuts down every registered generator. Shutdown errors are logged.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)

	for _, reg := range p.registry.All() {
		if err := reg.Generator.Shutdown(ctx); err != nil {
			p.logger.Warn("generator shutdown failed", "generator_id", reg.ID, "error", err)
		}
	}

	p.logger.Info("pipeline stopped")
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// RegisterGenerator adds gen to the registry, initializing it first when the
// pipeline is running. A generator that fails to initialize is not registered.
func (p *Pipeline) RegisterGenerator(ctx context.Context, gen generation.Generator) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if gen == nil {
		return p.registry.Register(nil)
	}

	running := p.running.Load()
	if running {
		if err := p.initialize(ctx, gen); err != nil {
			return fmt.Errorf("failed to initialize generator %s: %w", gen.Describe().ID, err)
		}
	}

	if err := p.registry.Register(gen); err != nil {
		if running {
			if shutdownErr := gen.Shutdown(ctx); shutdownErr != nil {
				p.logger.Warn("generator shutdown failed after rejected registration",
					"generator_id", gen.Describe().ID,
					"error", shutdownErr)
			}
		}
		return err
	}
	return nil
}

// UnregisterGenerator removes a generator. The registry shuts it down.
func (p *Pipeline) UnregisterGenerator(ctx context.Context, id string) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	return p.registry.Unregister(ctx, id)
}

// SetGeneratorEnabled toggles a generator without unregistering it.
func (p *Pipeline) SetGeneratorEnabled(id string, enabled bool) error {
	return p.registry.SetEnabled(id, enabled)
}

func (p *Pipeline) initialize(ctx context.Context, gen generation.Generator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panicked: %v", r)
		}
	}()
	return gen.Initialize(ctx, generation.Dependencies{
		Logger: p.logger.With("generator_id", gen.Describe().ID),
	})
}

// Health checks every registered generator independently, at most
// HealthConcurrency at a time. A failing or slow check marks only that
// generator unhealthy.
func (p *Pipeline) Health(ctx context.Context) []generation.GeneratorHealthSnapshot {
	regs := p.registry.All()
	snapshots := make([]generation.GeneratorHealthSnapshot, len(regs))

	// Checks never return errors; the group only bounds how many run at once.
	var g errgroup.Group
	g.SetLimit(p.cfg.HealthConcurrency)
	for i, reg := range regs {
		g.Go(func() error {
			snapshots[i] = p.checkHealth(ctx, reg.ID, reg.Enabled, reg.Generator)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].GeneratorID < snapshots[j].GeneratorID
	})
	return snapshots
}

func (p *Pipeline) checkHealth(
	ctx context.Context,
	id string,
	enabled bool,
	gen generation.Generator,
) generation.GeneratorHealthSnapshot {
	snap := generation.GeneratorHealthSnapshot{GeneratorID: id, Enabled: enabled}
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.HealthTimeout)
	defer cancel()

	type healthResult struct {
		status generation.HealthStatus
		err    error
	}
	done := make(chan healthResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- healthResult{err: fmt.Errorf("health check panicked: %v", r)}
			}
		}()
		status, err := gen.Health(checkCtx)
		done <- healthResult{status: status, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			snap.State = generation.HealthUnhealthy
			snap.Message = res.err.Error()
		} else {
			snap.State = res.status.State
			snap.Message = res.status.Message
			if snap.State == "" {
				snap.State = generation.HealthHealthy
			}
		}
	case <-checkCtx.Done():
		snap.State = generation.HealthUnhealthy
		snap.Message = fmt.Sprintf("health check did not complete within %s", p.cfg.HealthTimeout)
	}

	snap.Latency = time.Since(start)
	snap.CheckedAt = time.Now().UTC()
	if snap.State != generation.HealthHealthy {
		p.logger.Warn("generator reported unhealthy",
			"generator_id", id,
			"state", snap.State,
			"message", snap.Message)
	}
	return snap
}
