// Package llm implements a content generator on top of a hosted or local
// language model.
//
// The Generator owns everything that does not depend on the provider: prompt
// templates per content type, required-context checks, token-based time
// estimates, output validation and error classification. Providers plug in
// through the small Completer interface; see the gemini, openai and ollama
// packages.
//
// Built-in prompts live in prompts/*.tmpl and are compiled into the binary.
// A prompt directory given to LoadPrompts overrides them file by file.
package llm
