// Package worker consumes stats jobs from the queue, computes the aggregate
// and reports it back through the job's callback and the notification
// exchange.
package worker

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"fitnessbuddy/pkg/job"
	"fitnessbuddy/pkg/observability"
	"fitnessbuddy/pkg/stats"
)

// State is the consumer's position in the handling sequence.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateDelivering State = "delivering"
	StateFailed     State = "failed"
)

var allStates = []State{StateIdle, StateProcessing, StateDelivering, StateFailed}

const callbackFailedLog = "Unable to send result"

// Broadcaster publishes on the fanout exchanges.
type Broadcaster interface {
	PublishNotification(ctx context.Context, r job.Result) error
	PublishLog(ctx context.Context, content string) error
}

// ResultDeliverer sends a result to a callback URL.
type ResultDeliverer interface {
	Deliver(ctx context.Context, callback string, r job.Result) error
}

// Options tunes pacing, malformed handling and the clock.
type Options struct {
	MinDelay time.Duration
	MaxDelay time.Duration

	// DeadLetterMalformed rejects undecodable jobs without requeue instead of
	// acking them, so a configured DLX keeps them for inspection.
	DeadLetterMalformed bool

	Now func() time.Time
}

// Consumer processes one delivery at a time.
type Consumer struct {
	name      string
	deliverer ResultDeliverer
	out       Broadcaster
	opts      Options
	log       zerolog.Logger

	mu    sync.Mutex
	state State
}

func NewConsumer(name string, deliverer ResultDeliverer, out Broadcaster, opts Options, log zerolog.Logger) *Consumer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	c := &Consumer{
		name:      name,
		deliverer: deliverer,
		out:       out,
		opts:      opts,
		log:       log.With().Str("worker", name).Logger(),
	}
	c.setState(StateIdle)
	return c
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		observability.WorkerState.WithLabelValues(c.name, string(st)).Set(v)
	}
}

// Handle runs the full sequence for one delivery and settles it with the
// broker. The only path that leaves a job for redelivery is ctx ending
// before the result was computed. Once computed, the result is delivered
// and broadcast even if ctx ends, since the job is acked afterwards.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	l := c.log.With().Str("message_id", d.MessageId).Logger()
	c.setState(StateProcessing)
	// Shutdown must not cut short work that ends in an ack.
	ackCtx := context.WithoutCancel(ctx)

	j, err := job.Decode(d.Body)
	if err != nil {
		l.Error().Err(err).Msg("dropping malformed job")
		c.publishLog(ackCtx, l, "Malformed job: "+err.Error())
		c.setState(StateFailed)
		if c.opts.DeadLetterMalformed {
			c.settle(l, d.Nack(false, false))
		} else {
			c.settle(l, d.Ack(false))
		}
		observability.JobsProcessed.WithLabelValues("malformed").Inc()
		c.setState(StateIdle)
		return
	}
	l = l.With().Int64("user_id", j.User.ID).Logger()

	if err := c.pace(ctx); err != nil {
		l.Warn().Err(err).Msg("interrupted before compute, requeueing job")
		c.setState(StateFailed)
		c.settle(l, d.Nack(false, true))
		observability.JobsProcessed.WithLabelValues("requeued").Inc()
		c.setState(StateIdle)
		return
	}

	result := stats.Compute(c.opts.Now(), *j.User, j.Exercises, j.Measurements)
	c.setState(StateDelivering)

	outcome := "delivered"
	if err := c.deliverer.Deliver(ackCtx, j.CallbackURL, result); err != nil {
		outcome = "callback_failed"
		l.Warn().Err(err).Str("callback_url", j.CallbackURL).Msg("callback delivery failed")
		c.publishLog(ackCtx, l, callbackFailedLog)
	}

	if err := c.out.PublishNotification(ackCtx, result); err != nil {
		observability.NotificationsPublished.WithLabelValues("failed").Inc()
		l.Error().Err(err).Msg("failed to broadcast result")
	} else {
		observability.NotificationsPublished.WithLabelValues("sent").Inc()
	}

	c.settle(l, d.Ack(false))
	observability.JobDuration.Observe(time.Since(start).Seconds())
	observability.JobsProcessed.WithLabelValues(outcome).Inc()
	l.Info().Str("outcome", outcome).Int("total_exercises", result.TotalExercises).Msg("job handled")
	c.setState(StateIdle)
}

func (c *Consumer) pace(ctx context.Context) error {
	delay := c.opts.MinDelay
	if span := c.opts.MaxDelay - c.opts.MinDelay; span > 0 {
		delay += rand.N(span + 1)
	}
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Consumer) publishLog(ctx context.Context, l zerolog.Logger, content string) {
	if err := c.out.PublishLog(ctx, content); err != nil {
		l.Error().Err(err).Str("content", content).Msg("failed to publish log entry")
	}
}

func (c *Consumer) settle(l zerolog.Logger, err error) {
	if err != nil {
		l.Error().Err(err).Msg("failed to settle delivery")
	}
}
