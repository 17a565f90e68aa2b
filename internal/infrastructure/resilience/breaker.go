package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
)

// ErrOpen is returned while a breaker is rejecting calls.
var ErrOpen = errors.New("circuit open")

const (
	defaultFailures = 5
	defaultCooldown = 30 * time.Second
)

// Settings configures a Breaker. Zero values select defaults.
type Settings struct {
	// Failures is the run of consecutive failures that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before letting a probe through.
	Cooldown time.Duration
	Logger   *zap.Logger
}

// Breaker stops calling an operation that keeps failing, then retries it
// after a cooldown. It guards process spawning: once the OS refuses a run of
// spawns (descriptor or process limits), further attempts fail fast.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker named name.
func New(name string, s Settings) *Breaker {
	if s.Failures == 0 {
		s.Failures = defaultFailures
	}
	if s.Cooldown <= 0 {
		s.Cooldown = defaultCooldown
	}
	log := logging.OrNop(s.Logger)

	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})}
}

// Do runs fn unless the breaker is open, in which case it returns an error
// wrapping ErrOpen without calling fn. A nil Breaker always calls fn.
func (b *Breaker) Do(fn func() error) error {
	if b == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.cb.Name(), ErrOpen)
	}
	return err
}

// State reports "closed", "half-open" or "open".
func (b *Breaker) State() string {
	if b == nil {
		return gobreaker.StateClosed.String()
	}
	return b.cb.State().String()
}
