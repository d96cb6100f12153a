// Package config loads the service configuration from defaults, an optional
// YAML file and QUILL_* environment variables, and validates the result.
package config
