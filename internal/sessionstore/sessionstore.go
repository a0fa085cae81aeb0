// Package sessionstore implements the short-term session buffer: a rolling
// window of recent (user, assistant) turn pairs per (end_user_id, apply_id),
// held in the KV cache rather than the graph store, since this data is
// working memory for the current conversation rather than a durable node.
//
// Grounded on pkg/memory/postgres/session_store.go's append/fetch-recent
// shape, adapted from a dedicated Postgres table to a KVCache-backed JSON
// blob per key, since this engine places the session buffer in the same
// cache tier as C13's perceptual cache rather than in its own table.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memorybear/engine/internal/capability/kvcache"
	"github.com/memorybear/engine/internal/memerr"
)

// Turn is one (user, assistant) exchange.
type Turn struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultTTL is the rolling buffer's time-to-live, refreshed on every append.
const DefaultTTL = 24 * time.Hour

// DefaultMaxTurns bounds how many turns a single key retains.
const DefaultMaxTurns = 50

// Store is the Session Store port consumed by C11's Summarise node (recent
// history for answer composition) and by C4's extractor when
// include_dialogue_context is requested.
type Store interface {
	// Append adds turn to the (endUserID, applyID) buffer, deduplicating a
	// turn that is identical to the current last entry, and refreshes the
	// buffer's TTL.
	Append(ctx context.Context, endUserID, applyID string, turn Turn) error

	// Recent returns up to limit turns for (endUserID, applyID), oldest
	// first. limit <= 0 returns the full retained buffer.
	Recent(ctx context.Context, endUserID, applyID string, limit int) ([]Turn, error)
}

// KVStore is the KVCache-backed Store implementation.
type KVStore struct {
	cache    kvcache.KVCache
	ttl      time.Duration
	maxTurns int
}

// Option configures a KVStore.
type Option func(*KVStore)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *KVStore) { s.ttl = ttl }
}

// WithMaxTurns overrides DefaultMaxTurns.
func WithMaxTurns(n int) Option {
	return func(s *KVStore) { s.maxTurns = n }
}

// New constructs a KVStore backed by cache.
func New(cache kvcache.KVCache, opts ...Option) *KVStore {
	s := &KVStore{cache: cache, ttl: DefaultTTL, maxTurns: DefaultMaxTurns}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ Store = (*KVStore)(nil)

func bufferKey(endUserID, applyID string) string {
	return fmt.Sprintf("session:%s:%s", endUserID, applyID)
}

// Append implements Store. A turn identical to the buffer's current last
// entry (same User and Assistant text) is dropped rather than duplicated,
// matching the reference's consecutive-turn deduplication.
func (s *KVStore) Append(ctx context.Context, endUserID, applyID string, turn Turn) error {
	key := bufferKey(endUserID, applyID)

	turns, err := s.load(ctx, key)
	if err != nil {
		return err
	}

	if n := len(turns); n > 0 && turns[n-1].User == turn.User && turns[n-1].Assistant == turn.Assistant {
		// Still refresh the TTL: a repeated turn is evidence the session is
		// active, even though it adds nothing to the buffer.
		return s.save(ctx, key, turns)
	}

	turns = append(turns, turn)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	return s.save(ctx, key, turns)
}

// Recent implements Store.
func (s *KVStore) Recent(ctx context.Context, endUserID, applyID string, limit int) ([]Turn, error) {
	turns, err := s.load(ctx, bufferKey(endUserID, applyID))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (s *KVStore) load(ctx context.Context, key string) ([]Turn, error) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, memerr.Transient("session_store_load", err)
	}
	if !ok {
		return nil, nil
	}
	var turns []Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, memerr.Permanent("session_store_load", fmt.Errorf("decode buffer: %w", err))
	}
	return turns, nil
}

func (s *KVStore) save(ctx context.Context, key string, turns []Turn) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return memerr.Permanent("session_store_save", fmt.Errorf("encode buffer: %w", err))
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		return memerr.Transient("session_store_save", err)
	}
	return nil
}
