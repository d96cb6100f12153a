// Package cancel tracks in-flight requests so they can be cancelled from
// outside the pipeline.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrAlreadyRegistered is returned when a request id already has a live token.
var ErrAlreadyRegistered = errors.New("request already in flight")

// Token is the cooperative cancel signal for one request. Its context is handed
// to generators; the flag can be set exactly once.
type Token struct {
	requestID string
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewToken creates a token derived from parent.
func NewToken(parent context.Context, requestID string) *Token {
	ctx, cancelFn := context.WithCancel(parent)
	return &Token{requestID: requestID, ctx: ctx, cancel: cancelFn}
}

// RequestID returns the id the token belongs to.
func (t *Token) RequestID() string {
	return t.requestID
}

// Context returns the context cancelled together with the token.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done is closed when the token is cancelled or its parent context ends.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Cancel sets the flag and reports whether this call was the one that set it.
func (t *Token) Cancel() bool {
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	t.cancel()
	return true
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// release frees the token's context resources without marking it cancelled.
func (t *Token) release() {
	t.cancel()
}

// Registry maps in-flight request ids to their tokens.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// Register creates and stores a token for requestID.
func (r *Registry) Register(parent context.Context, requestID string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[requestID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, requestID)
	}
	token := NewToken(parent, requestID)
	r.tokens[requestID] = token
	return token, nil
}

// Deregister removes the token for requestID and releases its context. It is a
// no-op for unknown ids.
func (r *Registry) Deregister(requestID string) {
	r.mu.Lock()
	token, exists := r.tokens[requestID]
	delete(r.tokens, requestID)
	r.mu.Unlock()

	if exists {
		token.release()
	}
}

// Cancel cancels the in-flight request with requestID. It returns false when no
// such request is in flight or it was already cancelled.
func (r *Registry) Cancel(requestID string) bool {
	r.mu.Lock()
	token, exists := r.tokens[requestID]
	r.mu.Unlock()

	if !exists {
		return false
	}
	return token.Cancel()
}

// InFlight returns the number of registered tokens.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
