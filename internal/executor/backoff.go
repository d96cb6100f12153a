package executor

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/phrazzld/quill/internal/generation"
)

// Backoff computes the wait before the next attempt. attempt is the 1-based
// number of the attempt that just failed.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Immediate retries without waiting.
type Immediate struct{}

// Delay implements Backoff.
func (Immediate) Delay(int) time.Duration {
	return 0
}

// Linear waits Base * attempt, capped at Max when Max is set.
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Backoff.
func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capDelay(l.Base*time.Duration(attempt), l.Max)
}

// ExponentialJitter waits Base * 2^(attempt-1) scaled by a random factor in
// [0.5, 1.0), capped at Max when Max is set.
type ExponentialJitter struct {
	Base time.Duration
	Max  time.Duration

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Delay implements Backoff.
func (e ExponentialJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	r := rand.Float64
	if e.Rand != nil {
		r = e.Rand
	}
	backoff := float64(e.Base) * math.Pow(2, float64(attempt-1))
	jitter := 0.5 + r()*0.5
	return capDelay(time.Duration(backoff*jitter), e.Max)
}

func capDelay(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	if d < 0 {
		return limit
	}
	return d
}

// Policy selects a Backoff per error kind.
type Policy struct {
	Default Backoff
	ByKind  map[generation.Kind]Backoff
}

// For returns the Backoff for kind.
func (p Policy) For(kind generation.Kind) Backoff {
	if b, ok := p.ByKind[kind]; ok && b != nil {
		return b
	}
	if p.Default != nil {
		return p.Default
	}
	return Immediate{}
}

// DefaultPolicy backs off exponentially from upstream errors, linearly after
// timeouts and immediately after generator-marked failures.
func DefaultPolicy(base, limit time.Duration) Policy {
	return Policy{
		Default: ExponentialJitter{Base: base, Max: limit},
		ByKind: map[generation.Kind]Backoff{
			generation.KindUpstream:         ExponentialJitter{Base: base, Max: limit},
			generation.KindTimeout:          Linear{Base: base, Max: limit},
			generation.KindGenerationFailed: Immediate{},
		},
	}
}
