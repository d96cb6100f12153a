package generation

import (
	"time"
)

// ContentType names the kind of artifact a request asks for.
type ContentType string

// Content types understood by the bundled generators. Generators may declare
// support for any other type.
const (
	ContentTypeEmailSubject ContentType = "EMAIL_SUBJECT"
	ContentTypeEmailBody    ContentType = "EMAIL_BODY"
	ContentTypeSummary      ContentType = "SUMMARY"
	ContentTypeReply        ContentType = "REPLY"
)

// Method is the broad technique a generator uses.
type Method string

// Generation methods.
const (
	MethodLLM      Method = "llm"
	MethodTemplate Method = "template"
)

// Params is the opaque semantic context of a request. Identical params for the
// same content type reuse cached results.
type Params map[string]any

// String returns the string value stored under key, or "" when absent or not a string.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Has reports whether key is present with a non-empty value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// Request is one generation ask, produced upstream by the command parser.
// The pipeline never mutates it.
type Request struct {
	ID          string      `json:"id" validate:"required,max=128"`
	AgentID     string      `json:"agent_id,omitempty"`
	ToolID      string      `json:"tool_id,omitempty"`
	ContentType ContentType `json:"content_type" validate:"required,max=64,printascii"`
	Context     Params      `json:"context" validate:"required"`
	Priority    int         `json:"priority"`
	Deadline    *time.Time  `json:"deadline,omitempty"`

	// RetryCount overrides the pipeline's configured retries when set.
	RetryCount *int `json:"retry_count,omitempty" validate:"omitempty,min=0,max=10"`

	// PreferredMethod moves generators using this method to the front of the
	// selection order.
	PreferredMethod Method `json:"preferred_method,omitempty" validate:"omitempty,oneof=llm template"`

	// TimeBudget drops candidates whose estimated generation time exceeds it.
	// In JSON it is a duration string such as "2s"; integer nanoseconds are
	// also accepted.
	TimeBudget time.Duration `json:"time_budget,omitempty" validate:"min=0"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Payload is the body of a generated artifact.
type Payload struct {
	Text       string         `json:"text"`
	Structured map[string]any `json:"structured,omitempty"`
}

// ContentMetadata describes how content was produced.
type ContentMetadata struct {
	Method         Method        `json:"method"`
	GeneratorID    string        `json:"generator_id"`
	Confidence     float64       `json:"confidence"`
	GenerationTime time.Duration `json:"generation_time"`
	Fallback       bool          `json:"fallback"`
	CacheHit       bool          `json:"cache_hit"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// ValidationResult is the outcome of checking generated content.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Score   float64  `json:"score"`
	Issues  []string `json:"issues,omitempty"`
}

// GeneratedContent is the artifact produced by a generator or served from cache.
type GeneratedContent struct {
	ID         string            `json:"id"`
	Type       ContentType       `json:"type"`
	Payload    Payload           `json:"payload"`
	Metadata   ContentMetadata   `json:"metadata"`
	Validation *ValidationResult `json:"validation,omitempty"`
}

// Clone returns a deep-enough copy for handing cached content to a new caller.
func (c *GeneratedContent) Clone() *GeneratedContent {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Payload.Structured != nil {
		cp.Payload.Structured = make(map[string]any, len(c.Payload.Structured))
		for k, v := range c.Payload.Structured {
			cp.Payload.Structured[k] = v
		}
	}
	if c.Validation != nil {
		v := *c.Validation
		v.Issues = append([]string(nil), c.Validation.Issues...)
		cp.Validation = &v
	}
	return &cp
}

// Metrics is the observability record of one request.
type Metrics struct {
	RequestID   string      `json:"request_id"`
	ContentType ContentType `json:"content_type"`
	GeneratorID string      `json:"generator_id,omitempty"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	DurationMs  int64       `json:"duration_ms"`
	CacheHit    bool        `json:"cache_hit"`
	RetryCount  int         `json:"retry_count"`
	Success     bool        `json:"success"`
	ErrorCode   Kind        `json:"error_code,omitempty"`
}

// Failure is the stable failure shape handed to callers.
type Failure struct {
	Code        Kind   `json:"code"`
	Message     string `json:"message"`
	RetryCount  int    `json:"retry_count"`
	Recoverable bool   `json:"recoverable"`
}

// Result is exactly one of a success carrying Content or a failure carrying
// Failure. Metrics are present in both cases.
type Result struct {
	Content *GeneratedContent `json:"content,omitempty"`
	Failure *Failure          `json:"failure,omitempty"`
	Metrics Metrics           `json:"metrics"`
}

// Succeeded builds a success Result.
func Succeeded(content *GeneratedContent, metrics Metrics) Result {
	return Result{Content: content, Metrics: metrics}
}

// Failed builds a failure Result.
func Failed(failure Failure, metrics Metrics) Result {
	return Result{Failure: &failure, Metrics: metrics}
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Failure == nil && r.Content != nil
}

// HealthState is a coarse generator health state.
type HealthState string

// Health states.
const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus is what a generator reports about itself.
type HealthStatus struct {
	State   HealthState `json:"state"`
	Message string      `json:"message,omitempty"`
}

// GeneratorHealthSnapshot is one entry of the pipeline health report.
type GeneratorHealthSnapshot struct {
	GeneratorID string        `json:"generator_id"`
	State       HealthState   `json:"state"`
	Enabled     bool          `json:"enabled"`
	Message     string        `json:"message,omitempty"`
	Latency     time.Duration `json:"latency"`
	CheckedAt   time.Time     `json:"checked_at"`
}
