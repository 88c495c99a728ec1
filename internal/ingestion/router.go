package ingestion

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Applier executes one action against the ledger.
type Applier interface {
	Apply(ctx context.Context, a event.Action) (*core.Receipt, error)
}

// PriceSink accepts oracle updates.
type PriceSink interface {
	Apply(u oracle.Update) (oracle.ApplyResult, error)
}

// Outcome labels for handled messages.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeRetry     = "retry"
	OutcomeInvalid   = "invalid"
	OutcomeIgnored   = "ignored"
)

// Router parses raw NATS messages and dispatches them: actions to the
// engine, prices to the feed. Parse failures are terminated, rejections
// that may succeed later are redelivered, everything else is acked.
type Router struct {
	engine  Applier
	prices  PriceSink
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewRouter(engine Applier, prices PriceSink, metrics *observability.Metrics, log zerolog.Logger) *Router {
	return &Router{engine: engine, prices: prices, metrics: metrics, log: log}
}

// Run handles messages from in until it is closed or ctx is cancelled.
func (r *Router) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			r.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and settles it. It returns the outcome label.
func (r *Router) Handle(ctx context.Context, raw RawEvent) string {
	var kind, outcome string
	if strings.HasPrefix(raw.Subject, PriceSubjectPrefix) {
		kind, outcome = "price", r.handlePrice(raw)
	} else {
		kind, outcome = r.handleAction(ctx, raw)
	}

	if r.metrics != nil {
		r.metrics.IngestMessages.WithLabelValues(kind, outcome).Inc()
	}
	settle(raw, outcome)
	return outcome
}

func settle(raw RawEvent, outcome string) {
	var f func()
	switch outcome {
	case OutcomeInvalid:
		f = raw.TermFunc
	case OutcomeRetry:
		f = raw.NakFunc
	default:
		f = raw.AckFunc
	}
	if f != nil {
		f()
	}
}

func (r *Router) handleAction(ctx context.Context, raw RawEvent) (string, string) {
	kind, err := KindFromSubject(raw.Subject)
	if err != nil {
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("unroutable message")
		return "unknown", OutcomeInvalid
	}
	action, err := ParseAction(kind, raw.Data)
	if err != nil {
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("invalid action payload")
		return kind.String(), OutcomeInvalid
	}

	receipt, err := r.engine.Apply(ctx, action)
	switch {
	case err == nil:
		r.log.Debug().Int64("sequence", receipt.Sequence).Str("kind", kind.String()).Msg("action applied")
		return kind.String(), OutcomeApplied
	case errors.Is(err, core.ErrDuplicateRequest):
		return kind.String(), OutcomeDuplicate
	case retryable(err):
		r.log.Info().Err(err).Str("key", action.IdempotencyKey()).Msg("action deferred")
		return kind.String(), OutcomeRetry
	default:
		r.log.Info().Err(err).Str("key", action.IdempotencyKey()).Str("reason", core.Reason(err)).Msg("action rejected")
		return kind.String(), OutcomeRejected
	}
}

// retryable reports rejections caused by conditions outside the request:
// missing or stale prices and cancelled calls.
func retryable(err error) bool {
	return errors.Is(err, lending.ErrStalePrice) ||
		errors.Is(err, lending.ErrPriceNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *Router) handlePrice(raw RawEvent) string {
	p, err := ParsePriceUpdate(raw.Data)
	if err != nil {
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("invalid price payload")
		return OutcomeInvalid
	}
	asset := string(p.Asset)

	res, err := r.prices.Apply(p.OracleUpdate())
	outcome := OutcomeApplied
	switch {
	case err != nil:
		r.log.Warn().Err(err).Str("asset", asset).Msg("price rejected")
		outcome = OutcomeInvalid
	case !res.Applied:
		outcome = OutcomeIgnored
	case res.Gap > 0:
		r.log.Warn().Str("asset", asset).Int64("gap", res.Gap).Int64("sequence", p.Sequence).Msg("price sequence gap")
		if r.metrics != nil {
			r.metrics.PriceGaps.WithLabelValues(asset).Add(float64(res.Gap))
		}
	}
	if r.metrics != nil {
		r.metrics.PriceUpdates.WithLabelValues(asset, outcome).Inc()
	}
	return outcome
}

// ActionSubject is the subject producers publish kind actions to, keyed
// by the signer so per-user order is kept within a consumer.
func ActionSubject(a event.Action) string {
	return ActionSubjectPrefix + a.Kind().String() + "." + a.Signer().String()
}

// PriceSubject is the subject for asset's price updates.
func PriceSubject(p *event.PriceUpdate) string {
	return PriceSubjectPrefix + string(p.Asset) + "." + strconv.FormatInt(p.Sequence, 10)
}
