package generation

import (
	"context"
	"log/slog"
	"time"
)

// Descriptor is the static identity of a generator.
type Descriptor struct {
	ID             string        `json:"id"`
	SupportedTypes []ContentType `json:"supported_types"`

	// Priority orders candidates during selection, highest first.
	Priority int `json:"priority"`

	// Enabled is the generator's initial enabled state. The registry owns the
	// state after registration.
	Enabled bool `json:"enabled"`

	Method       Method   `json:"method"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Supports reports whether the descriptor lists contentType.
func (d Descriptor) Supports(contentType ContentType) bool {
	for _, t := range d.SupportedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// Dependencies are handed to a generator when the pipeline initializes it.
type Dependencies struct {
	Logger *slog.Logger
}

// Generator defines the plugin contract for content generators.
// This interface serves as a boundary between the pipeline and the model
// services or template engines that produce content.
type Generator interface {
	// Describe returns the generator's identity and capabilities.
	Describe() Descriptor

	// CanGenerate reports whether the generator can serve the given content
	// type and context. Errors mean "not a candidate".
	CanGenerate(ctx context.Context, contentType ContentType, params Params) (bool, error)

	// Generate produces content for the request. ctx is cancelled when the
	// request is cancelled or the attempt times out.
	Generate(ctx context.Context, req *Request) (*GeneratedContent, error)

	// Validate checks produced content. A nil result means no opinion.
	Validate(ctx context.Context, content *GeneratedContent) (*ValidationResult, error)

	// EstimateGenerationTime predicts how long Generate will take for params.
	EstimateGenerationTime(params Params) time.Duration

	Initialize(ctx context.Context, deps Dependencies) error
	Shutdown(ctx context.Context) error
	Health(ctx context.Context) (HealthStatus, error)
}

// Base supplies default implementations of the optional parts of Generator.
// Embed it and override what the generator actually does.
type Base struct{}

// Validate has no opinion.
func (Base) Validate(context.Context, *GeneratedContent) (*ValidationResult, error) {
	return nil, nil
}

// EstimateGenerationTime returns one second.
func (Base) EstimateGenerationTime(Params) time.Duration {
	return time.Second
}

// Initialize does nothing.
func (Base) Initialize(context.Context, Dependencies) error {
	return nil
}

// Shutdown does nothing.
func (Base) Shutdown(context.Context) error {
	return nil
}

// Health reports healthy.
func (Base) Health(context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthHealthy}, nil
}

// Validator checks generated content independently of the generator that
// produced it.
type Validator interface {
	Validate(ctx context.Context, content *GeneratedContent) (*ValidationResult, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, content *GeneratedContent) (*ValidationResult, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, content *GeneratedContent) (*ValidationResult, error) {
	return f(ctx, content)
}
