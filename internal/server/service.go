package server

import (
	"LendLedger/internal/clock"
	"LendLedger/internal/core"
	"LendLedger/internal/custody"
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	"LendLedger/internal/oracle"
	"LendLedger/internal/query"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// FundRequest credits a wallet from the external boundary.
type FundRequest struct {
	Owner  uuid.UUID       `json:"owner"`
	Asset  lending.AssetID `json:"asset"`
	Amount uint64          `json:"amount"`
}

type FundResponse struct {
	Transfer custody.Transfer `json:"transfer"`
	Balance  uint64           `json:"balance"`
}

type PriceResponse struct {
	Asset   lending.AssetID `json:"asset"`
	Applied bool            `json:"applied"`
	Gap     int64           `json:"gap"`
}

type GetBankRequest struct {
	Asset lending.AssetID `json:"asset"`
}

type GetPositionRequest struct {
	Owner uuid.UUID `json:"owner"`
}

type GetActionHistoryRequest struct {
	Owner          uuid.UUID `json:"owner"`
	Limit          int       `json:"limit"`
	BeforeSequence int64     `json:"before_sequence"`
}

type ActionHistoryResponse struct {
	Entries []query.ActionHistoryEntry `json:"entries"`
}

type GetWalletRequest struct {
	Owner uuid.UUID       `json:"owner"`
	Asset lending.AssetID `json:"asset"`
}

type VerifyIntegrityRequest struct{}

// LendingServer is the lending.v1.LendingService contract.
type LendingServer interface {
	InitializeBank(context.Context, *event.InitializeBank) (*core.Receipt, error)
	InitializeUser(context.Context, *event.InitializeUser) (*core.Receipt, error)
	Deposit(context.Context, *event.Deposit) (*core.Receipt, error)
	Withdraw(context.Context, *event.Withdraw) (*core.Receipt, error)
	Borrow(context.Context, *event.Borrow) (*core.Receipt, error)
	Repay(context.Context, *event.Repay) (*core.Receipt, error)
	Liquidate(context.Context, *event.Liquidate) (*core.Receipt, error)

	GetBank(context.Context, *GetBankRequest) (*query.BankResponse, error)
	GetPosition(context.Context, *GetPositionRequest) (*query.PositionResponse, error)
	GetActionHistory(context.Context, *GetActionHistoryRequest) (*ActionHistoryResponse, error)
	GetWallet(context.Context, *GetWalletRequest) (*query.WalletResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)

	SetPrice(context.Context, *event.PriceUpdate) (*PriceResponse, error)
	Fund(context.Context, *FundRequest) (*FundResponse, error)
}

// LendingService implements LendingServer over the engine and its
// collaborators. Errors are domain errors; the gRPC interceptor and the
// HTTP routes map them to status codes.
type LendingService struct {
	engine  *core.Engine
	queries *query.QueryService
	custody *custody.Ledger
	feed    *oracle.Feed
	clock   clock.Clock
}

func NewLendingService(engine *core.Engine, queries *query.QueryService, ledger *custody.Ledger, feed *oracle.Feed, clk clock.Clock) *LendingService {
	return &LendingService{engine: engine, queries: queries, custody: ledger, feed: feed, clock: clk}
}

var _ LendingServer = (*LendingService)(nil)

func (s *LendingService) InitializeBank(ctx context.Context, a *event.InitializeBank) (*core.Receipt, error) {
	return s.engine.InitializeBank(ctx, a)
}

func (s *LendingService) InitializeUser(ctx context.Context, a *event.InitializeUser) (*core.Receipt, error) {
	return s.engine.InitializeUser(ctx, a)
}

func (s *LendingService) Deposit(ctx context.Context, a *event.Deposit) (*core.Receipt, error) {
	return s.engine.Deposit(ctx, a)
}

func (s *LendingService) Withdraw(ctx context.Context, a *event.Withdraw) (*core.Receipt, error) {
	return s.engine.Withdraw(ctx, a)
}

func (s *LendingService) Borrow(ctx context.Context, a *event.Borrow) (*core.Receipt, error) {
	return s.engine.Borrow(ctx, a)
}

func (s *LendingService) Repay(ctx context.Context, a *event.Repay) (*core.Receipt, error) {
	return s.engine.Repay(ctx, a)
}

func (s *LendingService) Liquidate(ctx context.Context, a *event.Liquidate) (*core.Receipt, error) {
	return s.engine.Liquidate(ctx, a)
}

func (s *LendingService) GetBank(ctx context.Context, r *GetBankRequest) (*query.BankResponse, error) {
	return s.queries.GetBank(ctx, r.Asset)
}

func (s *LendingService) GetPosition(ctx context.Context, r *GetPositionRequest) (*query.PositionResponse, error) {
	return s.queries.GetPosition(ctx, r.Owner)
}

func (s *LendingService) GetActionHistory(ctx context.Context, r *GetActionHistoryRequest) (*ActionHistoryResponse, error) {
	entries, err := s.queries.GetActionHistory(ctx, r.Owner, r.Limit, r.BeforeSequence)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []query.ActionHistoryEntry{}
	}
	return &ActionHistoryResponse{Entries: entries}, nil
}

func (s *LendingService) GetWallet(ctx context.Context, r *GetWalletRequest) (*query.WalletResponse, error) {
	if r.Owner == uuid.Nil || r.Asset == "" {
		return nil, fmt.Errorf("%w: owner and asset", event.ErrMissingField)
	}
	return s.queries.GetWallet(ctx, r.Owner, r.Asset), nil
}

func (s *LendingService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	return s.queries.VerifyIntegrity(ctx)
}

// SetPrice publishes a quote to the in-process feed. A zero published_at
// is stamped with the server clock.
func (s *LendingService) SetPrice(_ context.Context, p *event.PriceUpdate) (*PriceResponse, error) {
	if p.Asset == "" || p.Sequence <= 0 {
		return nil, fmt.Errorf("%w: asset and positive sequence", event.ErrMissingField)
	}
	if p.PublishedAt == 0 {
		p.PublishedAt = s.clock.Now().Unix()
	}
	res, err := s.feed.Apply(p.OracleUpdate())
	if err != nil {
		return nil, err
	}
	return &PriceResponse{Asset: p.Asset, Applied: res.Applied, Gap: res.Gap}, nil
}

func (s *LendingService) Fund(ctx context.Context, r *FundRequest) (*FundResponse, error) {
	if r.Owner == uuid.Nil || r.Asset == "" {
		return nil, fmt.Errorf("%w: owner and asset", event.ErrMissingField)
	}
	t, err := s.custody.Fund(ctx, r.Owner, r.Asset, r.Amount)
	if err != nil {
		return nil, err
	}
	return &FundResponse{
		Transfer: t,
		Balance:  s.custody.Balance(custody.NewWalletKey(r.Owner, r.Asset)),
	}, nil
}
