package query

import (
	"LendLedger/internal/clock"
	"LendLedger/internal/core"
	"LendLedger/internal/custody"
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/store"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrHistoryUnavailable is returned by history queries when no event log
// database is configured.
var ErrHistoryUnavailable = errors.New("action history requires postgres")

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// QueryService serves read-only views. Banks and positions come from the
// live store and are accrued and priced at query time; history comes from
// the Postgres event log.
type QueryService struct {
	store       store.Store
	prices      oracle.PriceAdapter
	custody     *custody.Ledger
	clock       clock.Clock
	maxPriceAge time.Duration
	db          *sql.DB
	metrics     *observability.Metrics
}

type Option func(*QueryService)

// WithHistory enables the Postgres-backed queries.
func WithHistory(db *sql.DB) Option {
	return func(qs *QueryService) { qs.db = db }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(qs *QueryService) { qs.metrics = m }
}

func NewQueryService(
	st store.Store,
	prices oracle.PriceAdapter,
	ledger *custody.Ledger,
	clk clock.Clock,
	maxPriceAge time.Duration,
	opts ...Option,
) *QueryService {
	qs := &QueryService{
		store:       st,
		prices:      prices,
		custody:     ledger,
		clock:       clk,
		maxPriceAge: maxPriceAge,
	}
	for _, o := range opts {
		o(qs)
	}
	return qs
}

func (qs *QueryService) observe(method string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(method).Inc()
	qs.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		qs.metrics.QueryErrors.WithLabelValues(method, core.Reason(err)).Inc()
	}
}

// GetBank returns the bank for asset accrued to now.
func (qs *QueryService) GetBank(ctx context.Context, asset lending.AssetID) (resp *BankResponse, err error) {
	defer func(start time.Time) { qs.observe("get_bank", start, err) }(time.Now())

	var bank *lending.Bank
	var tip store.ChainTip
	err = qs.store.View(ctx, func(tx store.Tx) error {
		var err error
		if bank, err = tx.Bank(asset); err != nil {
			return err
		}
		tip, err = tx.ChainTip()
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := bank.Accrue(qs.clock.Now().Unix()); err != nil {
		return nil, err
	}

	vps, err := bank.ValuePerShare()
	if err != nil {
		return nil, err
	}
	dps, err := bank.DebtPerShare()
	if err != nil {
		return nil, err
	}
	util, err := utilization(bank)
	if err != nil {
		return nil, err
	}

	return &BankResponse{
		Asset:               bank.AssetID,
		Authority:           bank.Authority,
		TotalDeposits:       bank.TotalDeposits,
		TotalDepositShares:  bank.TotalDepositShares,
		TotalBorrowed:       bank.TotalBorrowed,
		TotalBorrowedShares: bank.TotalBorrowedShares,
		ValuePerShare:       vps,
		DebtPerShare:        dps,
		Utilization:         util,
		Params: lending.BankParams{
			LiquidationThreshold:   bank.LiquidationThreshold,
			MaxLTV:                 bank.MaxLTV,
			LiquidationBonus:       bank.LiquidationBonus,
			LiquidationCloseFactor: bank.LiquidationCloseFactor,
			InterestRate:           bank.InterestRate,
		},
		LastUpdated:  bank.LastUpdated,
		AsOfSequence: tip.Sequence,
	}, nil
}

// utilization is total_borrowed / total_deposits, 0 for an empty bank.
func utilization(b *lending.Bank) (fpmath.Fraction, error) {
	if b.TotalDeposits == 0 {
		return 0, nil
	}
	r, err := fpmath.MulDiv(uint256.NewInt(b.TotalBorrowed), fpmath.WAD(), uint256.NewInt(b.TotalDeposits), fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	u, err := fpmath.ToUint64(r)
	return fpmath.Fraction(u), err
}

// GetPosition returns owner's position with current claims and, when it
// carries debt, its live health factor.
func (qs *QueryService) GetPosition(ctx context.Context, owner uuid.UUID) (resp *PositionResponse, err error) {
	defer func(start time.Time) { qs.observe("get_position", start, err) }(time.Now())

	var pos *lending.UserPosition
	var banks [2]*lending.Bank
	var tip store.ChainTip
	err = qs.store.View(ctx, func(tx store.Tx) error {
		var err error
		if pos, err = tx.Position(owner); err != nil {
			return err
		}
		for _, kind := range []lending.SlotKind{lending.CollateralSlot, lending.DebtSlot} {
			if banks[kind], err = tx.Bank(pos.Asset(kind)); err != nil {
				return err
			}
		}
		tip, err = tx.ChainTip()
		return err
	})
	if err != nil {
		return nil, err
	}

	now := qs.clock.Now().Unix()
	resp = &PositionResponse{Owner: owner, AsOfSequence: tip.Sequence}
	for _, kind := range []lending.SlotKind{lending.CollateralSlot, lending.DebtSlot} {
		if err := banks[kind].Accrue(now); err != nil {
			return nil, err
		}
		view, err := slotView(banks[kind], pos.Slot(kind), pos.Asset(kind))
		if err != nil {
			return nil, err
		}
		if kind == lending.CollateralSlot {
			resp.Collateral = view
		} else {
			resp.Debt = view
		}
	}

	if !pos.HasBorrows() {
		return resp, nil
	}
	hf, err := qs.healthFactor(ctx, pos, banks)
	if err != nil {
		if errors.Is(err, lending.ErrStalePrice) || errors.Is(err, lending.ErrPriceNotFound) {
			resp.PriceError = err.Error()
			return resp, nil
		}
		return nil, err
	}
	resp.HealthFactor = &hf
	resp.Liquidatable = hf < fpmath.One
	return resp, nil
}

func slotView(bank *lending.Bank, slot *lending.Slot, asset lending.AssetID) (SlotView, error) {
	deposit, err := bank.DepositClaim(slot.DepositedShares)
	if err != nil {
		return SlotView{}, err
	}
	debt, err := bank.DebtClaim(slot.BorrowedShares)
	if err != nil {
		return SlotView{}, err
	}
	return SlotView{
		Asset:           asset,
		DepositedShares: slot.DepositedShares,
		DepositClaim:    deposit,
		BorrowedShares:  slot.BorrowedShares,
		DebtClaim:       debt,
	}, nil
}

// healthFactor values every borrowed slot against the deposits in the
// other slot and returns the lowest factor.
func (qs *QueryService) healthFactor(ctx context.Context, pos *lending.UserPosition, banks [2]*lending.Bank) (fpmath.Fraction, error) {
	var quotes [2]lending.Quote
	for _, kind := range []lending.SlotKind{lending.CollateralSlot, lending.DebtSlot} {
		q, err := qs.prices.GetPrice(ctx, pos.Asset(kind), qs.maxPriceAge)
		if err != nil {
			return 0, err
		}
		quotes[kind] = q
	}

	worst := fpmath.Fraction(^uint64(0))
	for _, debtKind := range []lending.SlotKind{lending.DebtSlot, lending.CollateralSlot} {
		if pos.Slot(debtKind).BorrowedShares == 0 {
			continue
		}
		collKind := debtKind.Other()
		v, err := lending.Assess(
			lending.Exposure{Bank: banks[collKind], Slot: pos.Slot(collKind), Quote: quotes[collKind]},
			lending.Exposure{Bank: banks[debtKind], Slot: pos.Slot(debtKind), Quote: quotes[debtKind]},
		)
		if err != nil {
			return 0, err
		}
		if hf, ok := v.HealthFactor(); ok && hf < worst {
			worst = hf
		}
	}
	return worst, nil
}

// GetWallet returns owner's custody balance of asset.
func (qs *QueryService) GetWallet(_ context.Context, owner uuid.UUID, asset lending.AssetID) *WalletResponse {
	start := time.Now()
	defer qs.observe("get_wallet", start, nil)
	return &WalletResponse{
		Owner:   owner,
		Asset:   asset,
		Balance: qs.custody.Balance(custody.NewWalletKey(owner, asset)),
	}
}

// GetActionHistory returns actions signed by or applied to owner, newest
// first. beforeSeq is an exclusive cursor; 0 starts at the newest.
func (qs *QueryService) GetActionHistory(ctx context.Context, owner uuid.UUID, limit int, beforeSeq int64) (entries []ActionHistoryEntry, err error) {
	defer func(start time.Time) { qs.observe("get_action_history", start, err) }(time.Now())

	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}
	limit = clampLimit(limit)

	query := `
		SELECT sequence, kind, idempotency_key, signer, payload, result, state_hash, applied_at
		FROM event_log.actions
		WHERE (subject = $1 OR signer = $1)`
	args := []any{owner}
	if beforeSeq > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", len(args)+1)
		args = append(args, beforeSeq)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e ActionHistoryEntry
		var payload, result, hash []byte
		if err := rows.Scan(&e.Sequence, &e.Kind, &e.IdempotencyKey, &e.Signer,
			&payload, &result, &hash, &e.AppliedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.Result = json.RawMessage(result)
		e.StateHash = hex.EncodeToString(hash)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// VerifyIntegrity checks the custody ledger is zero-sum and, when the event
// log is available, that every row's prev_hash links to its predecessor.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer func(start time.Time) { qs.observe("verify_integrity", start, err) }(time.Now())

	report = &IntegrityReport{}
	err = qs.store.View(ctx, func(tx store.Tx) error {
		tip, err := tx.ChainTip()
		report.AsOfSequence = tip.Sequence
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := qs.custody.ValidateGlobalBalance(); err != nil {
		report.CustodyError = err.Error()
	}

	if qs.db != nil {
		rows, err := qs.db.QueryContext(ctx, `
			SELECT sequence FROM (
				SELECT sequence, prev_hash, LAG(state_hash) OVER (ORDER BY sequence) AS expected
				FROM event_log.actions
			) chain
			WHERE expected IS NOT NULL AND prev_hash != expected
			ORDER BY sequence
			LIMIT 10`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				return nil, err
			}
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.CustodyError == ""
	return report, nil
}
