// Package network streams simulation frames to websocket clients and accepts
// their control messages.
package network

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/opd-ai/go-contagion/pkg/config"
	"github.com/opd-ai/go-contagion/pkg/logging"
)

// Sender guards writes to one peer with a circuit breaker. Once a peer keeps
// failing, writes fail fast until the breaker half-opens again.
type Sender struct {
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
}

// WriteOperation performs a single write and reports its failure
type WriteOperation func() error

// NewSender creates a Sender named name with breaker settings from envConfig
func NewSender(name string, envConfig *config.EnvironmentConfig, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Discard()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: envConfig.CircuitBreakerMaxRequests,
		Interval:    envConfig.CircuitBreakerInterval,
		Timeout:     envConfig.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= envConfig.CircuitBreakerMaxConsecutiveFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info(context.Background(), "circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &Sender{
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Execute runs op through the circuit breaker. An open breaker fails with
// gobreaker.ErrOpenState without calling op.
func (s *Sender) Execute(ctx context.Context, op WriteOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, op()
	})
	if err != nil {
		s.logger.LogWithContext(ctx, slog.LevelDebug, "guarded write failed",
			"error", err,
			"state", s.breaker.State().String(),
		)
		return fmt.Errorf("circuit breaker: %w", err)
	}

	return nil
}

// Open reports whether the breaker currently rejects writes
func (s *Sender) Open() bool {
	return s.breaker.State() == gobreaker.StateOpen
}

// GetState returns the current state of the circuit breaker
func (s *Sender) GetState() gobreaker.State {
	return s.breaker.State()
}

// GetCounts returns the failure and success counts of the circuit breaker
func (s *Sender) GetCounts() gobreaker.Counts {
	return s.breaker.Counts()
}
