package event

import (
	"LendLedger/internal/lending"
	"LendLedger/internal/oracle"
	"fmt"
)

// PriceUpdate is a price publication from the oracle.
type PriceUpdate struct {
	Asset       lending.AssetID `json:"asset"`
	Price       int64           `json:"price"`
	Expo        int32           `json:"expo"`
	PublishedAt int64           `json:"published_at"` // unix seconds
	Sequence    int64           `json:"sequence"`     // monotonic per asset
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Asset, p.Sequence)
}

func (p *PriceUpdate) OracleUpdate() oracle.Update {
	return oracle.Update{
		Quote: lending.Quote{
			Asset:       p.Asset,
			Price:       p.Price,
			Expo:        p.Expo,
			PublishedAt: p.PublishedAt,
		},
		Sequence: p.Sequence,
	}
}
