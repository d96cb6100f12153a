// Package mocks holds hand-written test doubles shared across packages.
//
// MockGenerator implements generation.Generator. Each behavior can be replaced
// through a function field; unset fields fall back to a successful default
// that echoes the generator's ID. Calls are counted so tests can assert on how
// often the pipeline probed, generated, or shut a generator down.
//
//	gen := mocks.NewMockGenerator("llm-primary", 10, generation.ContentTypeEmailBody)
//	gen.GenerateFn = func(ctx context.Context, req *generation.Request) (*generation.GeneratedContent, error) {
//	    return nil, generation.NewError(generation.KindUpstream, "503", nil)
//	}
package mocks
