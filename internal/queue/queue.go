// Package queue is the async worker boundary. Webhook deliveries that
// would overrun the request budget are published to a JetStream work
// queue and consumed by a durable worker running the same pipeline as the
// synchronous path.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/caseevent"
	"github.com/linnemanlabs/caseflow/internal/triage"
)

const (
	// StreamName is the JetStream stream holding queued case events.
	StreamName = "CASEFLOW"

	// Subject carries raw webhook bodies, wrapped or bare.
	Subject = "caseflow.cases"

	// DurableName identifies the worker's durable consumer.
	DurableName = "caseflow-worker"

	// DefaultBudget bounds a single message's processing time. AckWait is
	// set slightly above it so in-budget work never gets redelivered
	// mid-flight.
	DefaultBudget = 5 * time.Minute
)

func connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// Publisher enqueues case events for the async path.
type Publisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewPublisher connects and ensures the stream exists.
func NewPublisher(ctx context.Context, url string) (*Publisher, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{Subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// Enqueue publishes the raw webhook body. The body is decoded by the
// worker, not here, so the queue accepts wrapped and bare shapes alike.
func (p *Publisher) Enqueue(ctx context.Context, body []byte) error {
	if _, err := p.js.Publish(ctx, Subject, body); err != nil {
		return fmt.Errorf("publish case event: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	p.nc.Close()
}

// Processor runs the triage pipeline for one decoded payload. Satisfied
// by *triage.Service.
type Processor interface {
	Process(ctx context.Context, ev *caseevent.Payload) (*triage.Response, error)
}

// ackable is the slice of jetstream.Msg the worker touches, split out so
// the disposition logic is testable without a broker.
type ackable interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// Worker consumes queued case events with at-least-once delivery. The
// idempotency ledger absorbs redeliveries.
type Worker struct {
	nc        *nats.Conn
	consume   jetstream.ConsumeContext
	processor Processor
	budget    time.Duration
	logger    log.Logger
}

// StartWorker connects, binds the durable consumer, and starts consuming.
func StartWorker(ctx context.Context, url string, processor Processor, budget time.Duration, logger log.Logger) (*Worker, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}

	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       DurableName,
		FilterSubject: Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       budget + 30*time.Second,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer %s: %w", DurableName, err)
	}

	w := &Worker{
		nc:        nc,
		processor: processor,
		budget:    budget,
		logger:    logger.With("component", "queue-worker"),
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		w.handle(msg)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("start consuming: %w", err)
	}
	w.consume = cc

	w.logger.Info(ctx, "queue worker started", "stream", StreamName, "durable", DurableName)
	return w, nil
}

// handle decodes and processes one delivery. Invalid payloads are
// terminated so JetStream never redelivers them; any other failure is
// Nak'd for redelivery.
func (w *Worker) handle(msg ackable) {
	ctx, cancel := context.WithTimeout(context.Background(), w.budget)
	defer cancel()
	ctx = log.WithContext(ctx, w.logger)

	ev, err := caseevent.Decode(msg.Data())
	if err != nil {
		w.logger.Warn(ctx, "terminating invalid payload", "error", err.Error())
		if err := msg.Term(); err != nil {
			w.logger.Error(ctx, err, "term failed")
		}
		return
	}

	if _, err := w.processor.Process(ctx, ev); err != nil {
		w.logger.Error(ctx, err, "processing failed, requesting redelivery", "case_number", ev.CaseNumber)
		if err := msg.Nak(); err != nil {
			w.logger.Error(ctx, err, "nak failed", "case_number", ev.CaseNumber)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		w.logger.Error(ctx, err, "ack failed", "case_number", ev.CaseNumber)
	}
}

// Stop drains the consumer and closes the connection.
func (w *Worker) Stop() {
	if w.consume != nil {
		w.consume.Stop()
	}
	w.nc.Close()
}
