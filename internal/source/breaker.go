package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("document store unavailable")

type knownReader interface {
	ReadKnown(ctx context.Context, known map[string]struct{}) ([]Record, error)
}

type BreakerConfig struct {
	FailureThreshold uint32        // consecutive failed reads before opening
	OpenTimeout      time.Duration // how long to fail fast before probing again
}

// GuardedReader stops hitting the document store after repeated failed
// reads. While open, passes fail immediately with ErrUnavailable.
type GuardedReader struct {
	next knownReader
	cb   *gobreaker.CircuitBreaker
}

func NewGuardedReader(next knownReader, cfg BreakerConfig, logger *zap.Logger) *GuardedReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mongo-test-instances",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &GuardedReader{next: next, cb: cb}
}

func (g *GuardedReader) ReadKnown(ctx context.Context, known map[string]struct{}) ([]Record, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.ReadKnown(ctx, known)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return v.([]Record), nil
}
