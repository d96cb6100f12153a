package pipeline

import (
	"sync/atomic"

	"github.com/phrazzld/quill/internal/generation"
)

// Stats is an aggregate view of the pipeline since it was created.
type Stats struct {
	Requests       int64   `json:"requests"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	CacheHits      int64   `json:"cache_hits"`
	Retries        int64   `json:"retries"`
	MeanDurationMs float64 `json:"mean_duration_ms"`
	InFlight       int     `json:"in_flight"`
	Generators     int     `json:"generators"`
}

type counters struct {
	requests   atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	cacheHits  atomic.Int64
	retries    atomic.Int64
	durationMs atomic.Int64
}

func (c *counters) record(m generation.Metrics) {
	c.requests.Add(1)
	if m.Success {
		c.successes.Add(1)
	} else {
		c.failures.Add(1)
	}
	if m.CacheHit {
		c.cacheHits.Add(1)
	}
	c.retries.Add(int64(m.RetryCount))
	c.durationMs.Add(m.DurationMs)
}

// Stats returns aggregate counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Requests:   p.stats.requests.Load(),
		Successes:  p.stats.successes.Load(),
		Failures:   p.stats.failures.Load(),
		CacheHits:  p.stats.cacheHits.Load(),
		Retries:    p.stats.retries.Load(),
		InFlight:   p.cancels.InFlight(),
		Generators: p.registry.Len(),
	}
	if s.Requests > 0 {
		s.MeanDurationMs = float64(p.stats.durationMs.Load()) / float64(s.Requests)
	}
	return s
}
