// Package api exposes the generation pipeline and the task runner over HTTP.
// Handlers decode and validate JSON bodies, delegate to the pipeline, and map
// failure kinds onto status codes. Failure messages are redacted before they
// leave the process.
package api
