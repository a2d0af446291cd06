// Package supervisor builds suture supervisors that report lifecycle events
// through zerolog.
package supervisor

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// New returns a root supervisor for one process.
func New(name string, cfg Config, log zerolog.Logger) *suture.Supervisor {
	log = log.With().Str("supervisor", name).Logger()
	return suture.New(name, suture.Spec{
		EventHook:        eventHook(log),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})
}

func eventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := e.Map()
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			log.Warn().Fields(fields).Msg(e.String())
		case suture.EventTypeBackoff, suture.EventTypeStopTimeout:
			log.Error().Fields(fields).Msg(e.String())
		default:
			log.Info().Fields(fields).Msg(e.String())
		}
	}
}
