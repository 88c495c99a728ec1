package core

import (
	"LendLedger/internal/clock"
	"LendLedger/internal/custody"
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/store"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultIdempotencyCapacity = 100_000

// Config fixes the market the engine serves.
type Config struct {
	// Assets is the supported pair. A position's debt asset is the member
	// that is not its collateral.
	Assets              [2]lending.AssetID
	MaxPriceAge         time.Duration
	IdempotencyCapacity int
}

func (c Config) validate() error {
	if c.Assets[0] == "" || c.Assets[1] == "" || c.Assets[0] == c.Assets[1] {
		return fmt.Errorf("engine needs two distinct assets, got %q and %q", c.Assets[0], c.Assets[1])
	}
	if c.MaxPriceAge <= 0 {
		return fmt.Errorf("max price age must be positive, got %s", c.MaxPriceAge)
	}
	return nil
}

// Outputs are the channels committed actions are emitted on. Persist is
// a blocking send; Projection and Publish drop when full. Nil channels
// are skipped.
type Outputs struct {
	Persist    chan<- CoreOutput
	Projection chan<- CoreOutput
	Publish    chan<- CoreOutput
}

type Option func(*Engine)

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithOutputs(o Outputs) Option {
	return func(e *Engine) { e.out = o }
}

func WithDBChecker(c DBIdempotencyChecker) Option {
	return func(e *Engine) { e.dbChecker = c }
}

// Engine executes ledger actions. Each action runs inside one store
// transaction: records are loaded, accrued and mutated on copies, token
// transfers settle, and only then are the records written. Actions are
// applied one at a time so the global sequence and hash chain have a
// single writer.
type Engine struct {
	cfg     Config
	store   store.Store
	prices  oracle.PriceAdapter
	custody custody.Transferer
	clock   clock.Clock

	mu          sync.Mutex
	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker

	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	log       zerolog.Logger
	out       Outputs
}

// NewEngine resumes from the chain tip held by st.
func NewEngine(
	ctx context.Context,
	cfg Config,
	st store.Store,
	prices oracle.PriceAdapter,
	tr custody.Transferer,
	clk clock.Clock,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = DefaultIdempotencyCapacity
	}

	e := &Engine{
		cfg:     cfg,
		store:   st,
		prices:  prices,
		custody: tr,
		clock:   clk,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	var tip store.ChainTip
	if err := st.View(ctx, func(tx store.Tx) error {
		var err error
		tip, err = tx.ChainTip()
		return err
	}); err != nil {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}
	hasher, err := RestoreStateHasher(tip.Hash)
	if err != nil {
		return nil, err
	}
	e.hasher = hasher
	e.sequence = tip.Sequence

	e.idempotency, err = NewIdempotencyChecker(cfg.IdempotencyCapacity, e.dbChecker, e.metrics, e.log)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Apply dispatches any action to its typed method.
func (e *Engine) Apply(ctx context.Context, a event.Action) (*Receipt, error) {
	switch act := a.(type) {
	case *event.InitializeBank:
		return e.InitializeBank(ctx, act)
	case *event.InitializeUser:
		return e.InitializeUser(ctx, act)
	case *event.Deposit:
		return e.Deposit(ctx, act)
	case *event.Withdraw:
		return e.Withdraw(ctx, act)
	case *event.Borrow:
		return e.Borrow(ctx, act)
	case *event.Repay:
		return e.Repay(ctx, act)
	case *event.Liquidate:
		return e.Liquidate(ctx, act)
	default:
		return nil, fmt.Errorf("unsupported action %T", a)
	}
}

// Sequence returns the last committed sequence.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the current chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.PrevHash()
}

// WarmIdempotency preloads composite keys recovered from the event log.
func (e *Engine) WarmIdempotency(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.Warm(keys)
}

// Assets returns the supported pair.
func (e *Engine) Assets() [2]lending.AssetID {
	return e.cfg.Assets
}

// header is the context of one action inside its transaction.
type header struct {
	seq int64
	now int64
	ref string
}

func (h header) generator() custody.BatchGenerator {
	return custody.BatchGenerator{Ref: h.ref, Sequence: h.seq, Timestamp: h.now}
}

// effect is what a handler wants committed.
type effect struct {
	banks    []*lending.Bank
	position *lending.UserPosition
	batch    *custody.Batch
	outcome  Outcome
	primary  lending.AssetID
	// committed runs after the store commit succeeds.
	committed func()
}

type handler func(ctx context.Context, tx store.Tx, h header) (*effect, error)

func (e *Engine) execute(ctx context.Context, a event.Action, fn handler) (*Receipt, error) {
	start := time.Now()
	kind := a.Kind().String()
	key := a.IdempotencyKey()

	if err := a.Validate(); err != nil {
		return nil, e.reject(kind, err)
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, e.reject(kind, fmt.Errorf("encode %s action: %w", kind, err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.idempotency.IsDuplicate(ctx, kind, key) {
		return nil, e.reject(kind, fmt.Errorf("%w: %s %s", ErrDuplicateRequest, kind, key))
	}

	h := header{seq: e.sequence + 1, now: e.clock.Now().Unix(), ref: key}
	var (
		eff     *effect
		env     *event.ActionEnvelope
		applied []custody.Transfer
	)
	err = e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if eff, err = fn(ctx, tx, h); err != nil {
			return err
		}

		if eff.batch != nil {
			applied, err = custody.Settle(ctx, e.custody, eff.batch)
			if err != nil {
				if e.metrics != nil {
					e.metrics.TransferFailures.WithLabelValues(kind).Inc()
				}
				return err
			}
		}

		for _, b := range eff.banks {
			if err := tx.PutBank(b); err != nil {
				return err
			}
		}
		if eff.position != nil {
			if err := tx.PutPosition(eff.position); err != nil {
				return err
			}
		}

		result, err := json.Marshal(eff.outcome)
		if err != nil {
			return fmt.Errorf("encode %s result: %w", kind, err)
		}
		digest, err := stateDigest(payload, result, eff.banks, eff.position)
		if err != nil {
			return err
		}
		hash := e.hasher.Compute(h.seq, digest)
		env = &event.ActionEnvelope{
			Sequence:       h.seq,
			IdempotencyKey: key,
			Kind:           a.Kind(),
			Signer:         a.Signer(),
			Timestamp:      h.now,
			Payload:        payload,
			Result:         result,
			StateHash:      hash,
			PrevHash:       e.hasher.PrevHash(),
		}
		return tx.PutChainTip(store.ChainTip{Sequence: h.seq, Hash: hash[:]})
	})
	if err != nil {
		if len(applied) > 0 {
			e.compensate(ctx, kind, key, applied, err)
		}
		return nil, e.reject(kind, err)
	}

	e.sequence = h.seq
	e.hasher.Commit(env.StateHash)
	e.idempotency.MarkProcessed(kind, key)

	receipt := newReceipt(env, eff.outcome, eff.banks, eff.position, eff.primary)
	e.emit(CoreOutput{
		Envelope: env,
		Batch:    eff.batch,
		Banks:    eff.banks,
		Position: eff.position,
		Receipt:  receipt,
	})

	if eff.committed != nil {
		eff.committed()
	}
	if e.metrics != nil {
		e.metrics.ActionsApplied.WithLabelValues(kind).Inc()
		e.metrics.ActionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(e.sequence))
		for _, b := range eff.banks {
			e.metrics.BankDeposits.WithLabelValues(string(b.AssetID)).Set(float64(b.TotalDeposits))
			e.metrics.BankBorrowed.WithLabelValues(string(b.AssetID)).Set(float64(b.TotalBorrowed))
		}
	}
	e.log.Debug().
		Int64("sequence", h.seq).
		Str("kind", kind).
		Str("key", key).
		Str("signer", a.Signer().String()).
		Msg("action committed")
	return receipt, nil
}

func (e *Engine) reject(kind string, err error) error {
	reason := Reason(err)
	if e.metrics != nil {
		e.metrics.ActionsRejected.WithLabelValues(kind, reason).Inc()
	}
	e.log.Debug().Err(err).Str("kind", kind).Str("reason", reason).Msg("action rejected")
	return err
}

// compensate reverses transfers that settled for a transaction that then
// failed to commit.
func (e *Engine) compensate(ctx context.Context, kind, key string, applied []custody.Transfer, cause error) {
	err := custody.Unwind(context.WithoutCancel(ctx), e.custody, applied)
	outcome := "reversed"
	if err != nil {
		outcome = "failed"
	}
	if e.metrics != nil {
		e.metrics.Compensations.WithLabelValues(outcome).Inc()
	}
	ev := e.log.Error().Err(cause).Str("kind", kind).Str("key", key).Int("transfers", len(applied))
	if err != nil {
		ev = ev.AnErr("unwind_error", err)
	}
	ev.Str("outcome", outcome).Msg("store commit failed after settlement, compensating")
}

func (e *Engine) emit(out CoreOutput) {
	if e.out.Persist != nil {
		e.out.Persist <- out
	}
	if e.out.Projection != nil {
		select {
		case e.out.Projection <- out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}
	if e.out.Publish != nil {
		select {
		case e.out.Publish <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

// stateDigest is the canonical byte string folded into the hash chain:
// payload, result, touched banks ordered by asset, then the position. Each
// part is length-prefixed.
func stateDigest(payload, result []byte, banks []*lending.Bank, pos *lending.UserPosition) ([]byte, error) {
	parts := [][]byte{payload, result}

	sorted := append([]*lending.Bank(nil), banks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AssetID < sorted[j].AssetID })
	for _, b := range sorted {
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode bank %s: %w", b.AssetID, err)
		}
		parts = append(parts, raw)
	}
	if pos != nil {
		raw, err := json.Marshal(pos)
		if err != nil {
			return nil, fmt.Errorf("encode position %s: %w", pos.Owner, err)
		}
		parts = append(parts, raw)
	}

	var digest []byte
	for _, p := range parts {
		digest = binary.AppendUvarint(digest, uint64(len(p)))
		digest = append(digest, p...)
	}
	return digest, nil
}

func (e *Engine) supported(asset lending.AssetID) bool {
	return asset == e.cfg.Assets[0] || asset == e.cfg.Assets[1]
}

func (e *Engine) counterpart(asset lending.AssetID) lending.AssetID {
	if asset == e.cfg.Assets[0] {
		return e.cfg.Assets[1]
	}
	return e.cfg.Assets[0]
}

func (e *Engine) quote(ctx context.Context, asset lending.AssetID) (lending.Quote, error) {
	q, err := e.prices.GetPrice(ctx, asset, e.cfg.MaxPriceAge)
	if err != nil {
		if errors.Is(err, lending.ErrStalePrice) && e.metrics != nil {
			e.metrics.StalePrices.WithLabelValues(string(asset)).Inc()
		}
		return lending.Quote{}, err
	}
	if q.Asset != asset {
		return lending.Quote{}, fmt.Errorf("%w: adapter returned %s for %s", lending.ErrInvalidPrice, q.Asset, asset)
	}
	return q, nil
}

// pricedLeg loads the bank for the given slot of pos and prices it.
func (e *Engine) pricedLeg(ctx context.Context, tx store.Tx, pos *lending.UserPosition, kind lending.SlotKind) (lending.Leg, error) {
	asset := pos.Asset(kind)
	bank, err := tx.Bank(asset)
	if err != nil {
		return lending.Leg{}, err
	}
	q, err := e.quote(ctx, asset)
	if err != nil {
		return lending.Leg{}, err
	}
	return lending.Leg{Bank: bank, Kind: kind, Quote: q}, nil
}
