package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/quill/internal/generation"
)

// MockGenerator implements generation.Generator for testing
type MockGenerator struct {
	Desc generation.Descriptor

	// Function fields override the default behavior when set
	CanGenerateFn  func(ctx context.Context, contentType generation.ContentType, params generation.Params) (bool, error)
	GenerateFn     func(ctx context.Context, req *generation.Request) (*generation.GeneratedContent, error)
	ValidateFn     func(ctx context.Context, content *generation.GeneratedContent) (*generation.ValidationResult, error)
	EstimateFn     func(params generation.Params) time.Duration
	InitializeFn   func(ctx context.Context, deps generation.Dependencies) error
	ShutdownFn     func(ctx context.Context) error
	HealthFn       func(ctx context.Context) (generation.HealthStatus, error)
	Confidence     float64
	DefaultPayload string

	// Err is returned from Generate when GenerateFn is nil
	Err error

	// mu protects the call tracking state for concurrent test cases
	mu              sync.Mutex
	generateCalls   int
	requests        []*generation.Request
	canGenerateCall int
	initializeCalls int
	shutdownCalls   int
	healthCalls     int
}

// NewMockGenerator creates an enabled MockGenerator that succeeds for the given types.
func NewMockGenerator(id string, priority int, types ...generation.ContentType) *MockGenerator {
	return &MockGenerator{
		Desc: generation.Descriptor{
			ID:             id,
			SupportedTypes: types,
			Priority:       priority,
			Enabled:        true,
			Method:         generation.MethodLLM,
		},
		Confidence:     0.9,
		DefaultPayload: "generated by " + id,
	}
}

// NewMockGeneratorWithError creates a MockGenerator whose Generate always returns err.
func NewMockGeneratorWithError(id string, priority int, err error, types ...generation.ContentType) *MockGenerator {
	m := NewMockGenerator(id, priority, types...)
	m.Err = err
	return m
}

// Describe implements generation.Generator
func (m *MockGenerator) Describe() generation.Descriptor {
	return m.Desc
}

// CanGenerate implements generation.Generator
func (m *MockGenerator) CanGenerate(
	ctx context.Context,
	contentType generation.ContentType,
	params generation.Params,
) (bool, error) {
	m.mu.Lock()
	m.canGenerateCall++
	m.mu.Unlock()

	if m.CanGenerateFn != nil {
		return m.CanGenerateFn(ctx, contentType, params)
	}
	return m.Desc.Supports(contentType), nil
}

// Generate implements generation.Generator
func (m *MockGenerator) Generate(
	ctx context.Context,
	req *generation.Request,
) (*generation.GeneratedContent, error) {
	m.mu.Lock()
	m.generateCalls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Content(req), nil
}

// Content builds the content the mock returns by default for req.
func (m *MockGenerator) Content(req *generation.Request) *generation.GeneratedContent {
	return &generation.GeneratedContent{
		ID:      uuid.NewString(),
		Type:    req.ContentType,
		Payload: generation.Payload{Text: m.DefaultPayload},
		Metadata: generation.ContentMetadata{
			Method:      m.Desc.Method,
			GeneratorID: m.Desc.ID,
			Confidence:  m.Confidence,
			GeneratedAt: time.Now().UTC(),
		},
	}
}

// Validate implements generation.Generator
func (m *MockGenerator) Validate(
	ctx context.Context,
	content *generation.GeneratedContent,
) (*generation.ValidationResult, error) {
	if m.ValidateFn != nil {
		return m.ValidateFn(ctx, content)
	}
	return nil, nil
}

// EstimateGenerationTime implements generation.Generator
func (m *MockGenerator) EstimateGenerationTime(params generation.Params) time.Duration {
	if m.EstimateFn != nil {
		return m.EstimateFn(params)
	}
	return 100 * time.Millisecond
}

// Initialize implements generation.Generator
func (m *MockGenerator) Initialize(ctx context.Context, deps generation.Dependencies) error {
	m.mu.Lock()
	m.initializeCalls++
	m.mu.Unlock()

	if m.InitializeFn != nil {
		return m.InitializeFn(ctx, deps)
	}
	return nil
}

// Shutdown implements generation.Generator
func (m *MockGenerator) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdownCalls++
	m.mu.Unlock()

	if m.ShutdownFn != nil {
		return m.ShutdownFn(ctx)
	}
	return nil
}

// Health implements generation.Generator
func (m *MockGenerator) Health(ctx context.Context) (generation.HealthStatus, error) {
	m.mu.Lock()
	m.healthCalls++
	m.mu.Unlock()

	if m.HealthFn != nil {
		return m.HealthFn(ctx)
	}
	return generation.HealthStatus{State: generation.HealthHealthy}, nil
}

// GenerateCalls returns how many times Generate was called
func (m *MockGenerator) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// Requests returns the requests passed to Generate, in call order
func (m *MockGenerator) Requests() []*generation.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*generation.Request(nil), m.requests...)
}

// CanGenerateCalls returns how many times CanGenerate was called
func (m *MockGenerator) CanGenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canGenerateCall
}

// InitializeCalls returns how many times Initialize was called
func (m *MockGenerator) InitializeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeCalls
}

// ShutdownCalls returns how many times Shutdown was called
func (m *MockGenerator) ShutdownCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownCalls
}

// HealthCalls returns how many times Health was called
func (m *MockGenerator) HealthCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthCalls
}

// Reset resets the call tracking state
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generateCalls = 0
	m.requests = nil
	m.canGenerateCall = 0
	m.initializeCalls = 0
	m.shutdownCalls = 0
	m.healthCalls = 0
}

var _ generation.Generator = (*MockGenerator)(nil)
