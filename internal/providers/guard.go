package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var ErrUpstream = errors.New("upstream request failed")

// StatusError is a non-200 response from an upstream API.
type StatusError struct {
	Service string
	URL     string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d from %s", e.Service, e.Code, e.URL)
}

func (e *StatusError) Unwrap() error {
	return ErrUpstream
}

// GuardConfig tunes the limiter and circuit breaker in front of an API.
type GuardConfig struct {
	Timeout          time.Duration
	RatePerSecond    float64
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:          10 * time.Second,
		RatePerSecond:    2,
		BreakerThreshold: 5,
		BreakerTimeout:   60 * time.Second,
	}
}

// guard rate limits requests to one service and stops calling it while it
// keeps failing.
type guard struct {
	service string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Entry
}

func newGuard(service string, cfg GuardConfig, logger *logrus.Entry) *guard {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	threshold := uint32(max(cfg.BreakerThreshold, 1))
	settings := gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client errors say nothing about the service's health
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"component": "circuit_breaker",
				"service":   name,
				"from":      from.String(),
				"to":        to.String(),
			}).Info("Circuit breaker state changed")
		},
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &guard{
		service: service,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger.WithField("service", service),
	}
}

// getJSON waits for the limiter, then decodes a 200 response into out.
func (g *guard) getJSON(ctx context.Context, url string, header http.Header, out interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, g.service, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{Service: g.service, URL: url, Code: resp.StatusCode}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", g.service, err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.logger.Warn("Skipping request, circuit breaker open")
		return fmt.Errorf("%w: %s: %v", ErrUpstream, g.service, err)
	}
	return err
}

func (g *guard) state() gobreaker.State {
	return g.breaker.State()
}
