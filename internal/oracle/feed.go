package oracle

import (
	"LendLedger/internal/clock"
	"LendLedger/internal/lending"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// PriceAdapter returns a quote for an asset. Quotes older than maxAge are
// rejected with lending.ErrStalePrice.
type PriceAdapter interface {
	GetPrice(ctx context.Context, asset lending.AssetID, maxAge time.Duration) (lending.Quote, error)
}

// Update is one price publication. Sequence is monotonic per asset.
type Update struct {
	Quote    lending.Quote
	Sequence int64
}

// ApplyResult describes what Apply did with an update.
type ApplyResult struct {
	Applied bool
	// Gap is the number of sequences skipped before this update. Gaps are
	// tolerated; only the latest price matters.
	Gap int64
}

type entry struct {
	quote    lending.Quote
	sequence int64
}

// Feed is an in-process PriceAdapter holding the latest quote per asset.
// It is safe for concurrent use.
type Feed struct {
	mu     sync.RWMutex
	prices map[lending.AssetID]entry
	clock  clock.Clock
}

func NewFeed(c clock.Clock) *Feed {
	return &Feed{
		prices: make(map[lending.AssetID]entry),
		clock:  c,
	}
}

// Apply stores u if it is newer than the current quote for its asset.
// Stale or duplicate sequences are ignored.
func (f *Feed) Apply(u Update) (ApplyResult, error) {
	if err := u.Quote.Validate(); err != nil {
		return ApplyResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cur, ok := f.prices[u.Quote.Asset]
	if ok && u.Sequence <= cur.sequence {
		return ApplyResult{}, nil
	}

	var gap int64
	if ok && u.Sequence > cur.sequence+1 {
		gap = u.Sequence - cur.sequence - 1
	}
	f.prices[u.Quote.Asset] = entry{quote: u.Quote, sequence: u.Sequence}
	return ApplyResult{Applied: true, Gap: gap}, nil
}

func (f *Feed) GetPrice(ctx context.Context, asset lending.AssetID, maxAge time.Duration) (lending.Quote, error) {
	if err := ctx.Err(); err != nil {
		return lending.Quote{}, err
	}

	f.mu.RLock()
	e, ok := f.prices[asset]
	f.mu.RUnlock()
	if !ok {
		return lending.Quote{}, fmt.Errorf("%w: %s", lending.ErrPriceNotFound, asset)
	}

	age := f.clock.Now().Unix() - e.quote.PublishedAt
	if age > int64(maxAge/time.Second) {
		return lending.Quote{}, fmt.Errorf("%w: %s published %ds ago, max age %s",
			lending.ErrStalePrice, asset, age, maxAge)
	}
	return e.quote, nil
}

// Sequence returns the last applied sequence for asset.
func (f *Feed) Sequence(asset lending.AssetID) (int64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.prices[asset]
	return e.sequence, ok
}

// Snapshot returns every held quote ordered by asset.
func (f *Feed) Snapshot() []lending.Quote {
	f.mu.RLock()
	out := make([]lending.Quote, 0, len(f.prices))
	for _, e := range f.prices {
		out = append(out, e.quote)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}
