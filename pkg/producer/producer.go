package producer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fitnessbuddy/pkg/config"
	"fitnessbuddy/pkg/job"
	"fitnessbuddy/pkg/observability"
)

// ErrPublish marks a job that could not be handed to the broker.
var ErrPublish = errors.New("stats job not published")

// Snapshotter is the read side of storage the producer needs.
type Snapshotter interface {
	GetUser(ctx context.Context, userID int64) (job.UserSnapshot, error)
	ListExercises(ctx context.Context, userID int64) ([]job.ExerciseRecord, error)
	ListMeasurements(ctx context.Context, userID int64) ([]job.MeasurementRecord, error)
}

type StatsStore interface {
	Snapshotter
	DeleteAllStats(ctx context.Context, userID int64) error
}

type OutboxStore interface {
	Snapshotter
	ReplaceStatsWithOutbox(ctx context.Context, userID int64, messageID string, payload []byte) error
}

type JobPublisher interface {
	PublishJob(ctx context.Context, messageID string, body []byte) error
}

// Requester turns a stats request into a queued StatsJob. It never waits for
// the job to complete.
type Requester struct {
	submit    func(ctx context.Context, userID int64) error
	publicURL string
	mode      string
	log       zerolog.Logger
}

// NewDirect clears stored stats, then publishes straight to the broker.
func NewDirect(store StatsStore, pub JobPublisher, publicURL string, log zerolog.Logger) *Requester {
	r := &Requester{publicURL: publicURL, mode: config.ModeDirect, log: log}
	r.submit = func(ctx context.Context, userID int64) error {
		if err := store.DeleteAllStats(ctx, userID); err != nil {
			return fmt.Errorf("delete stats for user %d: %w", userID, err)
		}
		messageID, body, err := r.buildJob(ctx, store, userID)
		if err != nil {
			return err
		}
		if err := pub.PublishJob(ctx, messageID, body); err != nil {
			return fmt.Errorf("%w: %v", ErrPublish, err)
		}
		r.log.Info().Int64("user_id", userID).Str("message_id", messageID).Msg("stats job published")
		return nil
	}
	return r
}

// NewOutbox clears stored stats and enqueues the job in one transaction; the
// relay publishes it later.
func NewOutbox(store OutboxStore, publicURL string, log zerolog.Logger) *Requester {
	r := &Requester{publicURL: publicURL, mode: config.ModeOutbox, log: log}
	r.submit = func(ctx context.Context, userID int64) error {
		messageID, body, err := r.buildJob(ctx, store, userID)
		if err != nil {
			return err
		}
		if err := store.ReplaceStatsWithOutbox(ctx, userID, messageID, body); err != nil {
			return fmt.Errorf("enqueue stats job for user %d: %w", userID, err)
		}
		r.log.Info().Int64("user_id", userID).Str("message_id", messageID).Msg("stats job enqueued in outbox")
		return nil
	}
	return r
}

// RequestStats submits a job for an existing user.
func (r *Requester) RequestStats(ctx context.Context, userID int64) error {
	err := r.submit(ctx, userID)
	status := "accepted"
	if err != nil {
		status = "failed"
	}
	observability.StatsRequested.WithLabelValues(r.mode, status).Inc()
	return err
}

func (r *Requester) buildJob(ctx context.Context, store Snapshotter, userID int64) (string, []byte, error) {
	user, err := store.GetUser(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	exercises, err := store.ListExercises(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("load exercises for user %d: %w", userID, err)
	}
	measurements, err := store.ListMeasurements(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("load measurements for user %d: %w", userID, err)
	}

	body, err := job.Encode(&job.StatsJob{
		User:         &user,
		Exercises:    exercises,
		Measurements: measurements,
		CallbackURL:  CallbackURL(r.publicURL, userID),
	})
	if err != nil {
		return "", nil, fmt.Errorf("encode stats job: %w", err)
	}
	return uuid.NewString(), body, nil
}

// StatsPath is the stats resource of a user; results are posted back to it.
func StatsPath(userID int64) string {
	return "/api/users/" + strconv.FormatInt(userID, 10) + "/stats/"
}

// CallbackURL is absolute when publicURL is set, otherwise server-relative.
func CallbackURL(publicURL string, userID int64) string {
	path := StatsPath(userID)
	if publicURL == "" {
		return path
	}
	base, err := url.Parse(publicURL)
	if err != nil {
		return path
	}
	return base.ResolveReference(&url.URL{Path: path}).String()
}
