// Package generation defines the domain of the content-generation pipeline:
// requests, generated content, typed results, the Generator plugin contract that
// LLM-backed and template-backed generators implement, and the error taxonomy
// used to classify failures as retryable or terminal.
package generation
