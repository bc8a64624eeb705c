package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected without executing.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitConfig controls breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive counted failures
	// before the circuit opens. Default 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a
	// probe. Default 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides which errors count toward the threshold. If nil,
	// IsTransient is used — repeated transient failures indicate an
	// unhealthy provider, while permanent errors are caller bugs.
	ShouldTrip func(err error) bool
}

// Breaker implements the circuit breaker pattern for a single provider.
type Breaker struct {
	cfg CircuitConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	openedAt    time.Time
	nowFunc     func() time.Time
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg CircuitConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// WithNow injects a clock for testing.
func (b *Breaker) WithNow(now func() time.Time) *Breaker {
	b.nowFunc = now
	return b
}

// State returns the current state, accounting for reset timeout expiry.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() CircuitState {
	if b.state == CircuitOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = CircuitHalfOpen
	}
	return b.state
}

// BreakerGroup lazily manages one Breaker per key, all sharing a
// config. Used to isolate failures per provider.
type BreakerGroup struct {
	cfg CircuitConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerGroup creates an empty group.
func NewBreakerGroup(cfg CircuitConfig) *BreakerGroup {
	return &BreakerGroup{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for key, creating it on first use.
func (g *BreakerGroup) For(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	if !ok {
		b = NewBreaker(g.cfg)
		g.breakers[key] = b
	}
	return b
}

// Execute runs fn if the circuit allows it. In half-open state a single
// success closes the circuit; any counted failure reopens it.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.stateLocked() == CircuitOpen {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.state = CircuitClosed
		return nil
	}

	if !b.cfg.ShouldTrip(err) {
		return err
	}

	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = CircuitOpen
		b.openedAt = b.nowFunc()
	}
	return err
}
