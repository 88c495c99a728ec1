package custody

import (
	"LendLedger/internal/clock"
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Ledger is the in-process custody service. Balances are unsigned; funds
// enter only through Fund, which debits the external boundary.
type Ledger struct {
	mu       sync.Mutex
	balances map[AccountKey]uint64
	issued   map[lending.AssetID]uint64 // total moved in from external
	journal  Journal
	clock    clock.Clock
}

// NewLedger creates an empty ledger. journal may be nil.
func NewLedger(journal Journal, c clock.Clock) *Ledger {
	return &Ledger{
		balances: make(map[AccountKey]uint64),
		issued:   make(map[lending.AssetID]uint64),
		journal:  journal,
		clock:    c,
	}
}

// Restore rebuilds balances from the journal. Entries were checked when
// they were written, so they are applied without authority checks.
func (l *Ledger) Restore() (int, error) {
	if l.journal == nil {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	err := l.journal.Replay(func(t Transfer) error {
		if err := l.apply(t); err != nil {
			return fmt.Errorf("replay transfer %s: %w", t.ID, err)
		}
		n++
		return nil
	})
	return n, err
}

func (l *Ledger) Transfer(ctx context.Context, t Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if t.From.Scope == ScopeExternal {
		return fmt.Errorf("%w: %s can only be debited by Fund", ErrUnauthorized, t.From)
	}
	if t.To.Scope == ScopeExternal {
		return fmt.Errorf("%w: transfers to %s are not supported", ErrInvalidTransfer, t.To)
	}
	if t.Authority != t.From.Authority() {
		return fmt.Errorf("%w: %s signed by %s", ErrUnauthorized, t.From, t.Authority)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commit(t)
}

// Fund credits amount to owner's wallet from the external boundary.
func (l *Ledger) Fund(ctx context.Context, owner uuid.UUID, asset lending.AssetID, amount uint64) (Transfer, error) {
	if err := ctx.Err(); err != nil {
		return Transfer{}, err
	}
	t := Transfer{
		ID:        uuid.New(),
		BatchID:   uuid.New(),
		From:      NewExternalKey(asset),
		To:        NewWalletKey(owner, asset),
		Asset:     asset,
		Amount:    amount,
		Kind:      KindFund,
		Timestamp: l.clock.Now().Unix(),
	}
	t.Ref = t.ID.String()
	if err := t.Validate(); err != nil {
		return Transfer{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.commit(t); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

// commit applies t and journals it, rolling the balances back if the
// journal write fails. l.mu must be held.
func (l *Ledger) commit(t Transfer) error {
	if err := l.apply(t); err != nil {
		return err
	}
	if l.journal == nil {
		return nil
	}
	if err := l.journal.Append(t); err != nil {
		l.revert(t)
		return fmt.Errorf("journal transfer %s: %w", t.ID, err)
	}
	return nil
}

func (l *Ledger) apply(t Transfer) error {
	if t.From.Scope == ScopeExternal {
		issued, err := fpmath.CheckedAdd(l.issued[t.Asset], t.Amount)
		if err != nil {
			return err
		}
		to, err := fpmath.CheckedAdd(l.balances[t.To], t.Amount)
		if err != nil {
			return err
		}
		l.issued[t.Asset] = issued
		l.balances[t.To] = to
		return nil
	}

	from := l.balances[t.From]
	if from < t.Amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, t.From, from, t.Amount)
	}
	to, err := fpmath.CheckedAdd(l.balances[t.To], t.Amount)
	if err != nil {
		return err
	}
	l.balances[t.From] = from - t.Amount
	l.balances[t.To] = to
	return nil
}

func (l *Ledger) revert(t Transfer) {
	l.balances[t.To] -= t.Amount
	if t.From.Scope == ScopeExternal {
		l.issued[t.Asset] -= t.Amount
		return
	}
	l.balances[t.From] += t.Amount
}

// Balance returns the current balance of key.
func (l *Ledger) Balance(key AccountKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[key]
}

// AccountBalance is one entry of a ledger snapshot.
type AccountBalance struct {
	Account AccountKey `json:"account"`
	Balance uint64     `json:"balance"`
}

// Snapshot returns every non-zero balance ordered by account path.
func (l *Ledger) Snapshot() []AccountBalance {
	l.mu.Lock()
	out := make([]AccountBalance, 0, len(l.balances))
	for k, v := range l.balances {
		if v != 0 {
			out = append(out, AccountBalance{Account: k, Balance: v})
		}
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.AccountPath() < out[j].Account.AccountPath()
	})
	return out
}

// ValidateGlobalBalance checks that, per asset, the balances held in
// custody equal the amount issued from the external boundary.
func (l *Ledger) ValidateGlobalBalance() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held := make(map[lending.AssetID]uint64)
	for k, v := range l.balances {
		held[k.Asset] += v
	}
	for asset, issued := range l.issued {
		if held[asset] != issued {
			return fmt.Errorf("custody for %s holds %d, issued %d", asset, held[asset], issued)
		}
	}
	for asset, h := range held {
		if _, ok := l.issued[asset]; !ok && h != 0 {
			return fmt.Errorf("custody for %s holds %d with nothing issued", asset, h)
		}
	}
	return nil
}
