package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fitnessbuddy/pkg/config"
	"fitnessbuddy/pkg/database"
	"fitnessbuddy/pkg/job"
	"fitnessbuddy/pkg/observability"
	"fitnessbuddy/pkg/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := observability.NewLogger(cfg.Logging, "simulator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbClient.Close()

	if err := dbClient.InitSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize schema")
	}

	userIDs, err := seedUsers(ctx, dbClient, cfg.Simulator.Users)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to seed users")
	}
	logger.Info().Int("users", len(userIDs)).Msg("seeded users")

	concurrency := max(cfg.Simulator.Concurrency, 1)
	perLoop := max(cfg.Simulator.RatePerSec/concurrency, 1)
	client := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimRight(cfg.Simulator.APIURL, "/")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			requestLoop(ctx, client, base, userIDs, perLoop, logger)
		}()
	}
	wg.Wait()
	logger.Info().Msg("simulator stopped")
}

// seedUsers creates n users with a random history spread over their account age.
func seedUsers(ctx context.Context, db *database.Client, n int) ([]int64, error) {
	now := time.Now()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ageDays := rand.IntN(60)
		u := &job.UserSnapshot{
			Name:         fmt.Sprintf("sim-user-%d", i),
			Email:        fmt.Sprintf("sim-user-%d@example.com", i),
			Age:          float64(18 + rand.IntN(50)),
			CreationDate: now.AddDate(0, 0, -ageDays),
		}
		id, err := db.CreateUser(ctx, u)
		if err != nil {
			return nil, err
		}
		for e := rand.IntN(ageDays + 1); e > 0; e-- {
			d := float64(10 + rand.IntN(80))
			err := db.AddExercise(ctx, id, &job.ExerciseRecord{
				Name:     randomExercise(),
				Duration: &d,
				Date:     now.AddDate(0, 0, -rand.IntN(ageDays+1)),
			})
			if err != nil {
				return nil, err
			}
		}
		for m := rand.IntN(ageDays + 1); m > 0; m-- {
			w := 55 + rand.Float64()*40
			in := 1500 + rand.Float64()*1500
			out := 1500 + rand.Float64()*1500
			err := db.AddMeasurement(ctx, id, &job.MeasurementRecord{
				Date:        now.AddDate(0, 0, -rand.IntN(ageDays+1)),
				Weight:      &w,
				CaloriesIn:  &in,
				CaloriesOut: &out,
			})
			if err != nil {
				return nil, err
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func requestLoop(ctx context.Context, client *http.Client, base string, userIDs []int64, rps int, logger zerolog.Logger) {
	if len(userIDs) == 0 {
		return
	}
	interval := time.Second / time.Duration(rps)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		userID := userIDs[rand.IntN(len(userIDs))]
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+producer.StatsPath(userID), nil)
		if err != nil {
			logger.Error().Err(err).Msg("failed to build request")
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to request stats")
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		logger.Info().Int64("user_id", userID).Int("status", resp.StatusCode).Msg("requested stats")
	}
}

func randomExercise() string {
	names := []string{"running", "cycling", "swimming", "rowing", "yoga"}
	return names[rand.IntN(len(names))]
}
