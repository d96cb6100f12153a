package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/quill/internal/generation"
)

// GenerateBatch runs reqs in chunks of the configured batch size. Chunks run
// one after another; requests within a chunk run concurrently. The result at
// index i always belongs to reqs[i], and one request's failure never affects
// another's.
func (p *Pipeline) GenerateBatch(ctx context.Context, reqs []*generation.Request) []generation.Result {
	results := make([]generation.Result, len(reqs))
	size := p.cfg.BatchSize

	for start := 0; start < len(reqs); start += size {
		end := min(start+size, len(reqs))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = p.isolated(ctx, reqs[i])
			}()
		}
		wg.Wait()

		p.logger.Debug("batch chunk completed", "start", start, "end", end, "total", len(reqs))
	}

	return results
}

// isolated runs a single request behind its own recovery boundary.
func (p *Pipeline) isolated(ctx context.Context, req *generation.Request) (result generation.Result) {
	defer func() {
		if r := recover(); r != nil {
			id := ""
			if req != nil {
				id = req.ID
			}
			result = generation.Failed(generation.Failure{
				Code:    generation.KindGenerationFailed,
				Message: fmt.Sprintf("internal error: %v", r),
			}, generation.Metrics{RequestID: id})
		}
	}()
	return p.Generate(ctx, req)
}
