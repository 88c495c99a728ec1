package ingestion

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	ActionSubjectPrefix = "lending.actions."
	PriceSubjectPrefix  = "lending.prices."
	EventSubjectPrefix  = "lending.ledger.events."

	ActionStream = "LENDING_ACTIONS"
	PriceStream  = "LENDING_PRICES"
	EventStream  = "LENDING_LEDGER_EVENTS"
)

// RawEvent is a message received from NATS, not yet parsed.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // the message was handled
	NakFunc   func() // redeliver later
	TermFunc  func() // never redeliver
}

// SubjectConfig binds one consumer to a filter subject.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects has one consumer per action kind so a backlog of one kind
// does not delay the others.
func DefaultSubjects() []SubjectConfig {
	subjects := make([]SubjectConfig, 0, 7)
	for _, kind := range []string{"init_user", "deposit", "withdraw", "borrow", "repay", "liquidate"} {
		subjects = append(subjects, SubjectConfig{
			Subject:      ActionSubjectPrefix + kind + ".>",
			ConsumerName: "ledger-" + kind,
			StreamName:   ActionStream,
		})
	}
	return append(subjects, SubjectConfig{
		Subject:      PriceSubjectPrefix + ">",
		ConsumerName: "ledger-prices",
		StreamName:   PriceStream,
	})
}

// NATSSubscriber feeds JetStream messages into a channel drained by the
// Router.
type NATSSubscriber struct {
	js        jetstream.JetStream
	out       chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, out chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{js: js, out: out, log: log}
}

// Subscribe creates durable consumers with explicit ack, max_deliver=5 and
// ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return errors.Wrapf(err, "create consumer %s", cfg.ConsumerName)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
				TermFunc:  func() { _ = msg.Term() },
			}
			select {
			case ns.out <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return errors.Wrapf(err, "consume %s", cfg.ConsumerName)
		}

		ns.consumers = append(ns.consumers, cc)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// EnsureStreams creates the inbound and outbound streams: file storage,
// limits retention, 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{Name: ActionStream, Subjects: []string{ActionSubjectPrefix + ">"}},
		{Name: PriceStream, Subjects: []string{PriceSubjectPrefix + ">"}},
		{Name: EventStream, Subjects: []string{EventSubjectPrefix + ">"}, Duplicates: 10 * time.Minute},
	}
	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return errors.Wrapf(err, "create stream %s", cfg.Name)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS dials url with unlimited reconnects.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("lendingd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "nats connect")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, errors.Wrap(err, "jetstream")
	}
	return nc, js, nil
}
