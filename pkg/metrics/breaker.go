package metrics

import (
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures NewBreaker.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	MaxRequests      uint32
}

// NewBreaker returns a circuit breaker that trips after FailureThreshold
// consecutive failures and reports state changes to logs and metrics.
// isFailure decides which errors count against the breaker; nil counts all.
func NewBreaker[T any](s BreakerSettings, isFailure func(error) bool) *gobreaker.CircuitBreaker[T] {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}
	if isFailure != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || !isFailure(err)
		}
	}
	return gobreaker.NewCircuitBreaker[T](settings)
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
