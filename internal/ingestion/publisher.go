package ingestion

import (
	"LendLedger/internal/core"
	"LendLedger/internal/observability"
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// StreamPublisher is the part of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed actions to
// lending.ledger.events.{kind} for downstream consumers. The message ID is
// the action's dedup key so a republish after restart is dropped by the
// stream's duplicate window.
type OutboundPublisher struct {
	js      StreamPublisher
	input   <-chan core.CoreOutput
	metrics *observability.Metrics
	log     zerolog.Logger
}

// LedgerEvent is the outbound message body.
type LedgerEvent struct {
	Sequence       int64           `json:"sequence"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Action         json.RawMessage `json:"action"`
	Receipt        *core.Receipt   `json:"receipt"`
}

func NewOutboundPublisher(js StreamPublisher, input <-chan core.CoreOutput, metrics *observability.Metrics, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, input: input, metrics: metrics, log: log}
}

func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.input:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				// downstream consumers can fall back to the event log
				op.log.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	env := out.Envelope
	data, err := json.Marshal(LedgerEvent{
		Sequence:       env.Sequence,
		Kind:           env.Kind.String(),
		IdempotencyKey: env.IdempotencyKey,
		Action:         env.Payload,
		Receipt:        out.Receipt,
	})
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	_, err = op.js.Publish(ctx, EventSubjectPrefix+env.Kind.String(), data,
		jetstream.WithMsgID(env.Kind.String()+":"+env.IdempotencyKey))
	return errors.Wrap(err, "publish")
}
