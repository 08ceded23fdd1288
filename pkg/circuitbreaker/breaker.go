package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned without calling the wrapped function while the
// breaker is cooling down after repeated failures.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards one upstream dependency. Consecutive failures trip it
// open; after the cooldown a single probe call is let through, and one
// success closes it again.
type Breaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	logger           *zap.Logger

	mu       sync.Mutex
	state    State
	failures int
	probing  bool
	openedAt time.Time
}

type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	Logger           *zap.Logger
}

func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		logger:           cfg.Logger,
	}
}

// Execute runs fn under the breaker. While open it fails fast with ErrOpen;
// a cancelled context is reported without counting as an upstream failure.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.acquire(); err != nil {
		return err
	}

	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if success {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.failureThreshold) {
		b.transition(StateOpen)
		b.openedAt = time.Now()
	}
}

// transition assumes b.mu is held.
func (b *Breaker) transition(next State) {
	prev := b.state
	b.state = next

	if b.logger != nil {
		b.logger.Info("Circuit breaker state changed",
			zap.String("name", b.name),
			zap.String("from", prev.String()),
			zap.String("to", next.String()),
			zap.Int("failures", b.failures),
		)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
