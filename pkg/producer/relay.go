package producer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fitnessbuddy/pkg/database"
	"fitnessbuddy/pkg/observability"
)

type OutboxReader interface {
	FetchOutboxMessages(ctx context.Context, limit int) ([]database.OutboxMessage, error)
	DeleteOutboxMessage(ctx context.Context, id string) error
}

// Relay moves committed outbox rows onto the job queue. A row is deleted only
// after the broker confirmed it, so a crash in between republishes it.
type Relay struct {
	store     OutboxReader
	pub       JobPublisher
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
}

func NewRelay(store OutboxReader, pub JobPublisher, interval time.Duration, batchSize int, log zerolog.Logger) *Relay {
	return &Relay{
		store:     store,
		pub:       pub,
		interval:  interval,
		batchSize: batchSize,
		log:       log.With().Str("component", "outbox-relay").Logger(),
	}
}

func (r *Relay) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.ProcessOutbox(ctx)
		}
	}
}

func (r *Relay) String() string { return "outbox-relay" }

// ProcessOutbox publishes one batch and reports how many rows were relayed.
// Rows that fail stay in the outbox, and later rows of the batch are kept
// back to preserve creation order.
func (r *Relay) ProcessOutbox(ctx context.Context) int {
	messages, err := r.store.FetchOutboxMessages(ctx, r.batchSize)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to fetch outbox messages")
		return 0
	}

	relayed := 0
	for _, m := range messages {
		if err := r.pub.PublishJob(ctx, m.ID, m.Payload); err != nil {
			observability.OutboxPublished.WithLabelValues("failed").Inc()
			r.log.Error().Err(err).Str("message_id", m.ID).Msg("failed to publish job from outbox")
			return relayed
		}
		observability.OutboxPublished.WithLabelValues("published").Inc()

		if err := r.store.DeleteOutboxMessage(ctx, m.ID); err != nil {
			r.log.Error().Err(err).Str("message_id", m.ID).Msg("failed to delete outbox message after publish")
			return relayed
		}
		relayed++
		r.log.Info().Str("message_id", m.ID).Int64("user_id", m.UserID).Msg("published job from outbox")
	}
	return relayed
}
