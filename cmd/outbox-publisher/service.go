package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox/registry"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// RelayParams wires the relay. Metrics may be nil.
type RelayParams struct {
	Outbox           config.OutboxConfig
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	DLQ              dlqRepository
	PublisherFactory publisherFactory
	Metrics          *metrics.OutboxMetrics
}

// Relay drains unpublished order events to Pub/Sub, one locked batch per
// transaction. Rows that cannot be delivered end up in the DLQ.
type Relay struct {
	logg        *logger.Logger
	db          dbClient
	pubsub      pubSubClient
	repo        outboxRepository
	registry    registryResolver
	dlq         dlqRepository
	publisherFn publisherFactory
	metrics     *metrics.OutboxMetrics

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	jitter       *rand.Rand
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	}

	r := &Relay{
		logg:         p.Logger,
		db:           p.DB,
		pubsub:       p.PubSub,
		repo:         p.Repository,
		registry:     p.Registry,
		dlq:          p.DLQ,
		publisherFn:  p.PublisherFactory,
		metrics:      p.Metrics,
		batchSize:    positiveOr(p.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(p.Outbox.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(p.Outbox.PollIntervalMS) * time.Millisecond,
		jitter:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.publisherFn == nil {
		r.publisherFn = r.gcpPublisher
	}
	return r, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (r *Relay) gcpPublisher(topic string) publisher {
	return newGCPPublisher(r.pubsub.Publisher(topic))
}

// Run polls until ctx is canceled. Full batches loop immediately; empty ones
// wait one poll interval and errors back off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{{"database", r.db.Ping}, {"pubsub", r.pubsub.Ping}} {
		if err := dep.ping(ctx); err != nil {
			r.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}

	wait := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		drained, err := r.drainOnce(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case drained > 0:
			wait = r.pollInterval
			continue
		default:
			wait = r.pollInterval
		}

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// outcome is what happened to one row within a batch.
type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

type delivery struct {
	event   models.OutboxEvent
	topic   string
	result  outcome
	reason  enums.OutboxDLQErrorReason
	err     error
	eventID string
}

// drainOnce publishes one batch and settles every row inside the same
// transaction that locked it. It returns the number of rows handled.
func (r *Relay) drainOnce(ctx context.Context) (int, error) {
	handled := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		for _, event := range events {
			d := r.deliver(ctx, event)
			if err := r.settle(ctx, tx, d); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	return handled, err
}

func (r *Relay) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	d := delivery{event: event}

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		d.result, d.reason, d.err = outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
		return d
	}
	d.topic = resolved.Descriptor.Topic
	d.eventID = resolved.Envelope.EventID

	err = r.publish(ctx, event, resolved)
	switch {
	case err == nil:
		d.result = outcomePublished
	case registry.IsNonRetryable(err):
		d.result, d.reason, d.err = outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
	case event.AttemptCount+1 >= r.maxAttempts:
		d.result, d.reason = outcomeDeadLetter, enums.OutboxDLQReasonMaxAttempts
		d.err = fmt.Errorf("max publish attempts reached: %w", err)
	default:
		d.result, d.err = outcomeRetry, err
	}
	return d
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, d delivery) error {
	id := d.event.ID
	eventType := string(d.event.EventType)
	logCtx := r.logg.WithFields(ctx, d.fields())

	switch d.result {
	case outcomePublished:
		if err := r.repo.MarkPublishedTx(tx, id); err != nil {
			return fmt.Errorf("mark published %s: %w", id, err)
		}
		r.metrics.IncPublished(eventType)
		r.logg.Info(logCtx, "outbox event published")

	case outcomeRetry:
		if err := r.repo.MarkFailedTx(tx, id, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", id, err)
		}
		r.metrics.IncRetried(eventType)
		r.logg.Warn(r.logg.WithField(logCtx, "error", d.err.Error()), "outbox publish failed, will retry")

	case outcomeDeadLetter:
		msg := d.err.Error()
		entry := d.event.DeadLetter(d.reason, msg, time.Now().UTC())
		if err := r.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", id, err)
		}
		if err := r.repo.MarkTerminalTx(tx, id, d.err, r.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", id, err)
		}
		r.metrics.IncDeadLettered(eventType, string(d.reason))
		r.logg.Warn(r.logg.WithField(logCtx, "error", msg), "outbox event dead-lettered")
	}
	return nil
}

func (d delivery) fields() map[string]any {
	fields := map[string]any{
		"outbox_id":     d.event.ID.String(),
		"event_type":    d.event.EventType,
		"aggregate_id":  d.event.AggregateID.String(),
		"attempt_count": d.event.AttemptCount,
	}
	if d.topic != "" {
		fields["topic"] = d.topic
	}
	if d.eventID != "" {
		fields["event_id"] = d.eventID
	}
	if d.reason != "" {
		fields["error_reason"] = d.reason
	}
	return fields
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.publisherFn(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	// Consumers rely on per-order ordering, so the aggregate id is the key.
	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
			"schema_version": strconv.Itoa(resolved.Envelope.Version),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	d += time.Duration(r.jitter.Int63n(int64(jitterWindow)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{p: p}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{
		res:    g.p.Publish(ctx, msg),
		resume: func() { g.p.ResumePublish(msg.OrderingKey) },
	}
}

type gcpPublishResult struct {
	res    *gcppubsub.PublishResult
	resume func()
}

// Get waits for the server id. A failed publish pauses its ordering key, so
// the key is resumed before the row is retried on a later batch.
func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	id, err := r.res.Get(ctx)
	if err != nil {
		r.resume()
	}
	return id, err
}
