package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the backend circuit breaker.
type BreakerSettings struct {
	Name string
	// ConsecutiveFailures trips the breaker. Transport errors and 5xx count.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings trips after 5 consecutive failures for 30s.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{Name: name, ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// ErrBreakerOpen is returned while the backend is considered down.
var ErrBreakerOpen = errors.New("circuit breaker open")

// errServerFailure marks a 5xx so the breaker counts it; the response still reaches the caller.
var errServerFailure = errors.New("upstream 5xx")

type breakerTransport struct {
	cb   *gobreaker.CircuitBreaker[*http.Response]
	next http.RoundTripper
}

// NewBreakerTransport wraps next with a circuit breaker.
// It never retries; an open breaker fails the request immediately.
func NewBreakerTransport(s BreakerSettings, next http.RoundTripper) http.RoundTripper {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	threshold := s.ConsecutiveFailures

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	return &breakerTransport{cb: cb, next: next}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.cb.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerFailure
		}
		return resp, nil
	})

	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, errServerFailure):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	default:
		return nil, err
	}
}
