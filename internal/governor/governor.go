// Package governor enforces per-provider rate limits and budget ceilings.
// Hourly throttling is a local token bucket; daily and monthly ceilings
// read shared counters from the store, so the budget holds across worker
// processes.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen/internal/cost"
	"github.com/sells-group/leadgen/internal/model"
)

// Limit reasons reported by LimitError.
const (
	ReasonHourlyRate      = "hourly_rate"
	ReasonDailyLimit      = "daily_limit"
	ReasonMonthlyRequests = "monthly_requests"
	ReasonMonthlyBudget   = "monthly_budget"
)

// LimitError is returned by Acquire when a ceiling is breached. Callers
// must not call the provider after receiving one.
type LimitError struct {
	Provider string
	Reason   string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("governor: %s limit exceeded for %s", e.Reason, e.Provider)
}

// Budgetary reports whether the breach is a quota/budget ceiling rather
// than short-term rate pressure. Budgetary breaches defer the record;
// rate pressure falls through to the fallback provider.
func (e *LimitError) Budgetary() bool {
	return e.Reason != ReasonHourlyRate
}

// ProviderLimits holds the three independent ceilings for one provider.
type ProviderLimits struct {
	RequestsPerHour int             `yaml:"requests_per_hour" mapstructure:"requests_per_hour"`
	DailyLimit      int             `yaml:"daily_limit" mapstructure:"daily_limit"`
	MonthlyRequests int             `yaml:"monthly_requests" mapstructure:"monthly_requests"`
	MonthlyBudget   decimal.Decimal `yaml:"monthly_budget_usd" mapstructure:"monthly_budget_usd"`
}

// UsageStore is the shared counter backend. Increments must be atomic at
// the storage layer; multiple workers share the same provider budget.
type UsageStore interface {
	IncrementUsage(ctx context.Context, provider, day, month string, success bool, callCost decimal.Decimal) error
	MonthUsage(ctx context.Context, provider, month string) (requests int, spent decimal.Decimal, err error)
	DayUsage(ctx context.Context, provider, day string) (int, error)
}

// Governor issues permits for provider calls.
type Governor interface {
	Acquire(ctx context.Context, provider, operation string) (*Permit, error)
}

// Permit records the outcome of one permitted provider call. Complete
// must be called exactly once after the call returns, success or not.
type Permit struct {
	complete func(ctx context.Context, success bool)
	once     sync.Once
}

// NewPermit builds a permit with the given completion callback. Exposed
// for fakes; production permits come from Limiter.Acquire.
func NewPermit(complete func(ctx context.Context, success bool)) *Permit {
	return &Permit{complete: complete}
}

// Complete records the call against the shared usage counters.
func (p *Permit) Complete(ctx context.Context, success bool) {
	p.once.Do(func() {
		if p.complete != nil {
			p.complete(ctx, success)
		}
	})
}

// Limiter is the production Governor.
type Limiter struct {
	usage  UsageStore
	calc   *cost.Calculator
	limits map[string]ProviderLimits

	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	nowFunc func() time.Time
}

// New creates a Limiter over the shared usage store.
func New(usage UsageStore, calc *cost.Calculator, limits map[string]ProviderLimits) *Limiter {
	return &Limiter{
		usage:   usage,
		calc:    calc,
		limits:  limits,
		buckets: make(map[string]*rate.Limiter),
		nowFunc: time.Now,
	}
}

// WithNow injects a clock for testing.
func (l *Limiter) WithNow(now func() time.Time) *Limiter {
	l.nowFunc = now
	return l
}

func (l *Limiter) bucket(providerName string, limits ProviderLimits) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[providerName]
	if !ok {
		// Tokens refill evenly across the hour; a full hour of burst is
		// allowed so a fresh window never blocks a batch.
		b = rate.NewLimiter(rate.Limit(float64(limits.RequestsPerHour)/3600.0), limits.RequestsPerHour)
		l.buckets[providerName] = b
	}
	return b
}

// Acquire checks all ceilings for the provider and returns a permit, or
// a LimitError naming the first breached ceiling. It never blocks.
func (l *Limiter) Acquire(ctx context.Context, providerName, operation string) (*Permit, error) {
	limits, ok := l.limits[providerName]
	if !ok {
		// Unconfigured providers are unmetered but still counted.
		return l.permit(providerName, operation), nil
	}

	now := l.nowFunc()
	day := model.UsageDay(now)
	month := model.UsageMonth(now)

	if limits.DailyLimit > 0 {
		used, err := l.usage.DayUsage(ctx, providerName, day)
		if err != nil {
			return nil, err
		}
		if used >= limits.DailyLimit {
			return nil, &LimitError{Provider: providerName, Reason: ReasonDailyLimit}
		}
	}

	if limits.MonthlyRequests > 0 || limits.MonthlyBudget.IsPositive() {
		requests, spent, err := l.usage.MonthUsage(ctx, providerName, month)
		if err != nil {
			return nil, err
		}
		if limits.MonthlyRequests > 0 && requests >= limits.MonthlyRequests {
			return nil, &LimitError{Provider: providerName, Reason: ReasonMonthlyRequests}
		}
		if limits.MonthlyBudget.IsPositive() && spent.GreaterThanOrEqual(limits.MonthlyBudget) {
			return nil, &LimitError{Provider: providerName, Reason: ReasonMonthlyBudget}
		}
	}

	// Hourly token bucket last, so a blocked quota doesn't burn a token.
	if limits.RequestsPerHour > 0 && !l.bucket(providerName, limits).Allow() {
		return nil, &LimitError{Provider: providerName, Reason: ReasonHourlyRate}
	}

	return l.permit(providerName, operation), nil
}

func (l *Limiter) permit(providerName, operation string) *Permit {
	return NewPermit(func(ctx context.Context, success bool) {
		now := l.nowFunc()
		callCost := l.calc.RequestCost(providerName, operation)
		err := l.usage.IncrementUsage(ctx, providerName, model.UsageDay(now), model.UsageMonth(now), success, callCost)
		if err != nil {
			zap.L().Error("governor: record usage",
				zap.String("provider", providerName),
				zap.String("operation", operation),
				zap.Error(err),
			)
		}
	})
}

// IsLimitExceeded reports whether err is a governor LimitError, and if
// so whether the breach was budgetary.
func IsLimitExceeded(err error) (budgetary, ok bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le.Budgetary(), true
	}
	return false, false
}
