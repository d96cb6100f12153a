// Package task runs generation requests in the background. Submitted tasks
// are persisted through a TaskStore before they are queued, so a restart can
// rebuild and requeue whatever was pending or interrupted mid-flight.
package task
