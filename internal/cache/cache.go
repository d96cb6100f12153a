// Package cache maps a request's semantic context to previously generated
// content. Cache failures never fail a request: reads degrade to misses and
// writes are skipped.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/phrazzld/quill/internal/generation"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "quill:content:"

// ErrMiss is returned by a Store when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a key-value store for generated content.
type Store interface {
	Get(ctx context.Context, key string) (*generation.GeneratedContent, error)
	Set(ctx context.Context, key string, content *generation.GeneratedContent, ttl time.Duration) error
}

// keyMaterial is the semantic part of a request. encoding/json sorts map keys,
// so equal contexts marshal identically.
type keyMaterial struct {
	Type   generation.ContentType `json:"type"`
	Params generation.Params      `json:"params"`
}

// KeyFor derives the cache key for a content type and context. It does not
// depend on the request id, so identical contexts share a key. Strings must be
// valid UTF-8: encoding/json replaces invalid bytes with U+FFFD, which would
// give distinct contexts the same key.
func KeyFor(contentType generation.ContentType, params generation.Params) (string, error) {
	if params == nil {
		params = generation.Params{}
	}
	material := keyMaterial{Type: contentType, Params: params}
	raw, err := json.Marshal(material)
	if err != nil {
		return "", fmt.Errorf("%w: context is not serializable: %v", generation.ErrCache, err)
	}
	if !validUTF8(reflect.ValueOf(material)) {
		return "", fmt.Errorf("%w: context contains invalid UTF-8", generation.ErrCache)
	}
	sum := sha256.Sum256(raw)
	return KeyPrefix + hex.EncodeToString(sum[:]), nil
}

// validUTF8 walks v the way encoding/json would. Cyclic values never reach
// it because json.Marshal rejects them first.
func validUTF8(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return utf8.ValidString(v.String())
	case reflect.Interface, reflect.Pointer:
		return v.IsNil() || validUTF8(v.Elem())
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if !validUTF8(iter.Key()) || !validUTF8(iter.Value()) {
				return false
			}
		}
	case reflect.Slice, reflect.Array:
		// Byte slices are base64 encoded and lose nothing.
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return true
		}
		for i := range v.Len() {
			if !validUTF8(v.Index(i)) {
				return false
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			if t.Field(i).IsExported() && !validUTF8(v.Field(i)) {
				return false
			}
		}
	}
	return true
}

// Observer is notified of cache outcomes.
type Observer interface {
	RecordCacheHit(ctx context.Context, key string, contentType generation.ContentType) error
	RecordCacheMiss(ctx context.Context, key string, contentType generation.ContentType) error
}

// Gateway wraps a Store with the pipeline's cache policy.
type Gateway struct {
	store    Store
	ttl      time.Duration
	observer Observer
	logger   *slog.Logger
}

// NewGateway creates a Gateway. A nil store disables caching.
func NewGateway(store Store, ttl time.Duration, observer Observer, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:    store,
		ttl:      ttl,
		observer: observer,
		logger:   logger.With("component", "cache"),
	}
}

// Lookup returns cached content for req, or nil on a miss. Store errors are
// logged and treated as misses.
func (g *Gateway) Lookup(ctx context.Context, req *generation.Request) *generation.GeneratedContent {
	if g.store == nil {
		return nil
	}
	key, err := KeyFor(req.ContentType, req.Context)
	if err != nil {
		g.logger.WarnContext(ctx, "cache key derivation failed", "request_id", req.ID, "error", err)
		return nil
	}

	content, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrMiss):
		g.notifyMiss(ctx, key, req.ContentType)
		return nil
	case err != nil:
		g.logger.WarnContext(ctx, "cache read failed, treating as miss",
			"request_id", req.ID,
			"error", fmt.Errorf("%w: %v", generation.ErrCache, err))
		g.notifyMiss(ctx, key, req.ContentType)
		return nil
	case content == nil:
		g.notifyMiss(ctx, key, req.ContentType)
		return nil
	}

	g.notifyHit(ctx, key, req.ContentType)
	return content
}

// Save stores content for req. Failures are logged and skipped.
func (g *Gateway) Save(ctx context.Context, req *generation.Request, content *generation.GeneratedContent) {
	if g.store == nil || content == nil {
		return
	}
	key, err := KeyFor(req.ContentType, req.Context)
	if err != nil {
		g.logger.WarnContext(ctx, "cache key derivation failed", "request_id", req.ID, "error", err)
		return
	}
	if err := g.store.Set(ctx, key, content, g.ttl); err != nil {
		g.logger.WarnContext(ctx, "cache write failed, continuing",
			"request_id", req.ID,
			"error", fmt.Errorf("%w: %v", generation.ErrCache, err))
	}
}

func (g *Gateway) notifyHit(ctx context.Context, key string, contentType generation.ContentType) {
	if g.observer == nil {
		return
	}
	g.notify(ctx, "hit", func() error { return g.observer.RecordCacheHit(ctx, key, contentType) })
}

func (g *Gateway) notifyMiss(ctx context.Context, key string, contentType generation.ContentType) {
	if g.observer == nil {
		return
	}
	g.notify(ctx, "miss", func() error { return g.observer.RecordCacheMiss(ctx, key, contentType) })
}

// notify reports to the observer. Errors and panics are logged; neither
// reaches the request.
func (g *Gateway) notify(ctx context.Context, outcome string, record func() error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.WarnContext(ctx, "cache observer panicked", "outcome", outcome, "panic", r)
		}
	}()
	if err := record(); err != nil {
		g.logger.WarnContext(ctx, "failed to record cache "+outcome, "error", err)
	}
}
