package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"fitnessbuddy/pkg/job"
)

// ErrCallbackStatus is returned when the callback answered with a non-2xx code.
var ErrCallbackStatus = errors.New("callback rejected result")

// StatusError carries the status code of a rejected callback.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: status %d", ErrCallbackStatus, e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrCallbackStatus }

// countsAsSuccess keeps per-job rejections (4xx) out of the breaker; only
// transport errors and 5xx mean the callback endpoint itself is unhealthy.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code < 500
}

// DelivererConfig configures HTTP delivery of results to callback URLs.
type DelivererConfig struct {
	// BaseURL resolves server-relative callback URLs.
	BaseURL string

	Timeout time.Duration

	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Deliverer POSTs results to the callback URL carried by each job.
type Deliverer struct {
	base    *url.URL
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[int]
	log     zerolog.Logger
}

func NewDeliverer(cfg DelivererConfig, log zerolog.Logger) (*Deliverer, error) {
	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid callback base url: %w", err)
		}
		base = u
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	d := &Deliverer{
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("component", "callback").Logger(),
	}
	d.breaker = gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:         "callback",
		MaxRequests:  1,
		Timeout:      cfg.BreakerTimeout,
		IsSuccessful: countsAsSuccess,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return d, nil
}

// Resolve turns a callback URL from a job into an absolute one.
func (d *Deliverer) Resolve(callback string) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if d.base == nil {
		return "", fmt.Errorf("relative callback %q without a base url", callback)
	}
	return d.base.ResolveReference(u).String(), nil
}

// Deliver POSTs r as JSON and succeeds on any 2xx status. An open breaker
// fails fast with gobreaker.ErrOpenState.
func (d *Deliverer) Deliver(ctx context.Context, callback string, r job.Result) error {
	target, err := d.Resolve(callback)
	if err != nil {
		return err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}

	status, err := d.breaker.Execute(func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp.StatusCode, &StatusError{Code: resp.StatusCode}
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return err
	}
	d.log.Debug().Str("url", target).Int("status", status).Msg("result delivered")
	return nil
}
