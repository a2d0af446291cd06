package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fitnessbuddy/pkg/config"
	"fitnessbuddy/pkg/job"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Client{pool: pool}, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// InitSchema creates the tables if they do not exist.
func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id BIGSERIAL PRIMARY KEY,
        name TEXT NOT NULL,
        email TEXT NOT NULL,
        age DOUBLE PRECISION NOT NULL,
        creation_date TIMESTAMPTZ NOT NULL
    );
    CREATE TABLE IF NOT EXISTS exercises (
        id BIGSERIAL PRIMARY KEY,
        user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        name TEXT NOT NULL,
        duration DOUBLE PRECISION,
        date TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_exercises_user_id ON exercises (user_id);
    CREATE TABLE IF NOT EXISTS measurements (
        id BIGSERIAL PRIMARY KEY,
        user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        date TIMESTAMPTZ NOT NULL,
        weight DOUBLE PRECISION,
        calories_in DOUBLE PRECISION,
        calories_out DOUBLE PRECISION
    );
    CREATE INDEX IF NOT EXISTS idx_measurements_user_id ON measurements (user_id);
    CREATE TABLE IF NOT EXISTS stats (
        id BIGSERIAL PRIMARY KEY,
        user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        date TIMESTAMPTZ NOT NULL,
        total_exercises INTEGER,
        daily_exercises DOUBLE PRECISION,
        daily_calories_in DOUBLE PRECISION,
        daily_calories_out DOUBLE PRECISION
    );
    CREATE INDEX IF NOT EXISTS idx_stats_user_id ON stats (user_id);

    -- Outbox table for the transactional stats request path
    CREATE TABLE IF NOT EXISTS stats_outbox (
        id UUID PRIMARY KEY,
        user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        payload BYTEA NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    `
	_, err := c.pool.Exec(ctx, schema)
	return err
}

func (c *Client) CreateUser(ctx context.Context, u *job.UserSnapshot) (int64, error) {
	var id int64
	query := `INSERT INTO users (name, email, age, creation_date) VALUES ($1, $2, $3, $4) RETURNING id`
	err := c.pool.QueryRow(ctx, query, u.Name, u.Email, u.Age, u.CreationDate).Scan(&id)
	return id, err
}

func (c *Client) AddExercise(ctx context.Context, userID int64, e *job.ExerciseRecord) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO exercises (user_id, name, duration, date) VALUES ($1, $2, $3, $4)`,
		userID, e.Name, e.Duration, e.Date)
	return err
}

func (c *Client) AddMeasurement(ctx context.Context, userID int64, m *job.MeasurementRecord) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO measurements (user_id, date, weight, calories_in, calories_out) VALUES ($1, $2, $3, $4, $5)`,
		userID, m.Date, m.Weight, m.CaloriesIn, m.CaloriesOut)
	return err
}

func (c *Client) GetUser(ctx context.Context, userID int64) (job.UserSnapshot, error) {
	var u job.UserSnapshot
	query := `SELECT id, name, email, age, creation_date FROM users WHERE id = $1`
	err := c.pool.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Name, &u.Email, &u.Age, &u.CreationDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return u, err
}

func (c *Client) ListExercises(ctx context.Context, userID int64) ([]job.ExerciseRecord, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT name, duration, date FROM exercises WHERE user_id = $1 ORDER BY date, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []job.ExerciseRecord{}
	for rows.Next() {
		var e job.ExerciseRecord
		if err := rows.Scan(&e.Name, &e.Duration, &e.Date); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *Client) ListMeasurements(ctx context.Context, userID int64) ([]job.MeasurementRecord, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT date, weight, calories_in, calories_out FROM measurements WHERE user_id = $1 ORDER BY date, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []job.MeasurementRecord{}
	for rows.Next() {
		var m job.MeasurementRecord
		if err := rows.Scan(&m.Date, &m.Weight, &m.CaloriesIn, &m.CaloriesOut); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *Client) DeleteAllStats(ctx context.Context, userID int64) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM stats WHERE user_id = $1`, userID)
	return err
}

// SubmitStats stores r as the user's only stats row. A redelivered job that
// posts twice still leaves a single row.
func (c *Client) SubmitStats(ctx context.Context, r *job.Result) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM stats WHERE user_id = $1`, r.UserID); err != nil {
		return err
	}
	insert := `INSERT INTO stats (user_id, date, total_exercises, daily_exercises, daily_calories_in, daily_calories_out)
               VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, insert, r.UserID, r.Date, r.TotalExercises,
		r.DailyExercises, r.DailyCaloriesIn, r.DailyCaloriesOut); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LatestStats returns the user's stored result, or nil while a job is pending.
func (c *Client) LatestStats(ctx context.Context, userID int64) (*job.Result, error) {
	r := &job.Result{UserID: userID}
	var total *int32
	var daily, in, out *float64
	query := `SELECT date, total_exercises, daily_exercises, daily_calories_in, daily_calories_out
              FROM stats WHERE user_id = $1 ORDER BY date DESC, id DESC LIMIT 1`
	err := c.pool.QueryRow(ctx, query, userID).Scan(&r.Date, &total, &daily, &in, &out)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if total != nil {
		r.TotalExercises = int(*total)
	}
	r.DailyExercises = deref(daily)
	r.DailyCaloriesIn = deref(in)
	r.DailyCaloriesOut = deref(out)
	return r, nil
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// OutboxMessage represents a row in the stats_outbox table.
type OutboxMessage struct {
	ID        string
	UserID    int64
	Payload   []byte
	CreatedAt time.Time
}

// ReplaceStatsWithOutbox clears the user's stats and enqueues the job payload
// in a single transaction.
func (c *Client) ReplaceStatsWithOutbox(ctx context.Context, userID int64, messageID string, payload []byte) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM stats WHERE user_id = $1`, userID); err != nil {
		return err
	}
	insertOutbox := `INSERT INTO stats_outbox (id, user_id, payload) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insertOutbox, messageID, userID, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FetchOutboxMessages retrieves up to limit outbox messages ordered by creation time.
func (c *Client) FetchOutboxMessages(ctx context.Context, limit int) ([]OutboxMessage, error) {
	query := `SELECT id::text, user_id, payload, created_at FROM stats_outbox ORDER BY created_at LIMIT $1`
	rows, err := c.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []OutboxMessage{}
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteOutboxMessage removes an outbox message after successful publish.
func (c *Client) DeleteOutboxMessage(ctx context.Context, id string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM stats_outbox WHERE id = $1`, id)
	return err
}
