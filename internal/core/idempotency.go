package core

import (
	"LendLedger/internal/observability"
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// ErrDuplicateRequest is returned for an action whose request ID has
// already been committed.
var ErrDuplicateRequest = errors.New("duplicate request")

// DBIdempotencyChecker looks a key up in the durable event log.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, kind string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker is a two-tier dedup: an in-memory LRU of recently
// committed keys in front of the Postgres event log.
type IdempotencyChecker struct {
	lru       *lru.Cache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, log zerolog.Logger) (*IdempotencyChecker, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency cache: %w", err)
	}
	return &IdempotencyChecker{
		lru:       cache,
		dbChecker: dbChecker,
		metrics:   metrics,
		log:       log,
	}, nil
}

func compositeKey(kind, key string) string {
	return kind + ":" + key
}

// IsDuplicate reports whether kind/key was already committed. A failing
// Postgres lookup is logged and treated as not seen.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, kind, key string) bool {
	ck := compositeKey(kind, key)
	if ic.lru.Contains(ck) {
		ic.recordDuplicate(kind, "lru")
		return true
	}
	if ic.dbChecker == nil {
		return false
	}

	dup, err := ic.dbChecker.IsDuplicate(ctx, kind, key)
	if err != nil {
		if ic.metrics != nil {
			ic.metrics.IdempotencyTier2Errors.Inc()
		}
		ic.log.Warn().Err(err).Str("kind", kind).Str("key", key).Msg("idempotency lookup failed")
		return false
	}
	if dup {
		ic.recordDuplicate(kind, "postgres")
		ic.lru.Add(ck, struct{}{})
	}
	return dup
}

// MarkProcessed records a committed key.
func (ic *IdempotencyChecker) MarkProcessed(kind, key string) {
	ic.lru.Add(compositeKey(kind, key), struct{}{})
}

// Warm loads composite keys ("kind:key") recovered from the event log.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.lru.Add(k, struct{}{})
	}
}

func (ic *IdempotencyChecker) Len() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(kind, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(kind, tier).Inc()
	}
}
