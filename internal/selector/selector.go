// Package selector picks the generator that should serve a request.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/registry"
)

// DefaultProbeTimeout bounds each CanGenerate probe.
const DefaultProbeTimeout = 2 * time.Second

// DefaultPriorityThreshold is the priority at or above which a candidate earns
// the priority share of its confidence.
const DefaultPriorityThreshold = 5

var errProbeTimeout = errors.New("capability probe timed out")

// Source supplies ordered candidates for a content type.
type Source interface {
	Query(contentType generation.ContentType) []registry.Registration
}

// Criteria describes what the caller needs.
type Criteria struct {
	ContentType     generation.ContentType
	Params          generation.Params
	PreferredMethod generation.Method
	TimeBudget      time.Duration
}

// Selection is the outcome of Select. A Selection without a generator means no
// candidate could serve the criteria.
type Selection struct {
	Generator    generation.Generator
	GeneratorID  string
	Alternatives []registry.Registration
	Confidence   float64
	Reason       string
}

// Found reports whether a generator was selected.
func (s Selection) Found() bool {
	return s.Generator != nil
}

// Options tunes a Selector.
type Options struct {
	ProbeTimeout time.Duration

	// PriorityThreshold overrides DefaultPriorityThreshold when set. Zero and
	// negative thresholds are honoured.
	PriorityThreshold *int
}

// Selector ranks registered generators for a request.
type Selector struct {
	source            Source
	probeTimeout      time.Duration
	priorityThreshold int
	logger            *slog.Logger
}

// New creates a Selector over source.
func New(source Source, opts Options, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	threshold := DefaultPriorityThreshold
	if opts.PriorityThreshold != nil {
		threshold = *opts.PriorityThreshold
	}
	return &Selector{
		source:            source,
		probeTimeout:      opts.ProbeTimeout,
		priorityThreshold: threshold,
		logger:            logger.With("component", "selector"),
	}
}

// Select returns the best candidate for criteria plus the remaining candidates
// in fallback order.
func (s *Selector) Select(ctx context.Context, criteria Criteria) Selection {
	candidates := s.source.Query(criteria.ContentType)
	if len(candidates) == 0 {
		return Selection{Reason: fmt.Sprintf("no enabled generator supports %s", criteria.ContentType)}
	}

	capable := make([]registry.Registration, 0, len(candidates))
	for _, c := range candidates {
		ok, err := s.probe(ctx, c, criteria)
		if err != nil {
			s.logger.Warn("capability probe failed, skipping generator",
				"generator_id", c.ID,
				"content_type", criteria.ContentType,
				"error", err)
			continue
		}
		if ok {
			capable = append(capable, c)
		}
	}
	if len(capable) == 0 {
		return Selection{Reason: fmt.Sprintf("no generator accepted the %s context", criteria.ContentType)}
	}

	if criteria.PreferredMethod != "" {
		sort.SliceStable(capable, func(i, j int) bool {
			return capable[i].Method == criteria.PreferredMethod &&
				capable[j].Method != criteria.PreferredMethod
		})
	}

	if criteria.TimeBudget > 0 {
		for len(capable) > 0 {
			estimate := capable[0].Generator.EstimateGenerationTime(criteria.Params)
			if estimate <= criteria.TimeBudget {
				break
			}
			s.logger.Debug("dropping generator over time budget",
				"generator_id", capable[0].ID,
				"estimate", estimate,
				"budget", criteria.TimeBudget)
			capable = capable[1:]
		}
		if len(capable) == 0 {
			return Selection{Reason: fmt.Sprintf("no generator fits the %s time budget", criteria.TimeBudget)}
		}
	}

	chosen := capable[0]
	return Selection{
		Generator:    chosen.Generator,
		GeneratorID:  chosen.ID,
		Alternatives: append([]registry.Registration(nil), capable[1:]...),
		Confidence:   s.confidence(chosen, criteria.ContentType),
		Reason:       s.reason(chosen, criteria, len(capable)-1),
	}
}

// probe runs CanGenerate with a timeout. Panics are reported as errors.
func (s *Selector) probe(ctx context.Context, c registry.Registration, criteria Criteria) (ok bool, err error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	type probeResult struct {
		ok  bool
		err error
	}
	done := make(chan probeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeResult{err: fmt.Errorf("capability probe panicked: %v", r)}
			}
		}()
		ok, err := c.Generator.CanGenerate(probeCtx, criteria.ContentType, criteria.Params)
		done <- probeResult{ok: ok, err: err}
	}()

	select {
	case res := <-done:
		return res.ok, res.err
	case <-probeCtx.Done():
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, errProbeTimeout
	}
}

func (s *Selector) confidence(c registry.Registration, contentType generation.ContentType) float64 {
	score := 0.0
	if c.Supports(contentType) {
		score += 0.5
	}
	if c.Priority >= s.priorityThreshold {
		score += 0.3
	}
	if c.Enabled {
		score += 0.2
	}
	return score
}

func (s *Selector) reason(c registry.Registration, criteria Criteria, alternatives int) string {
	r := fmt.Sprintf("selected %s (priority %d) for %s", c.ID, c.Priority, criteria.ContentType)
	if criteria.PreferredMethod != "" && c.Method == criteria.PreferredMethod {
		r += fmt.Sprintf(", matches preferred method %s", criteria.PreferredMethod)
	}
	if alternatives > 0 {
		r += fmt.Sprintf(", %d alternative(s)", alternatives)
	}
	return r
}
