// Package gemini provides an llm.Completer backed by Google's Gemini API.
//
// This package is an infrastructure adapter: it translates a rendered prompt
// into a GenerateContent call through the google.golang.org/genai client and
// maps the response, safety verdicts and API errors back into the
// vocabulary of the llm and generation packages. Nothing outside this
// package sees genai types.
//
// Retrying is not done here. The pipeline's executor owns retries and
// backoff, so the completer classifies each failure and returns at once.
package gemini
