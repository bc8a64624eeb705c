package governor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/cost"
)

type fakeUsage struct {
	dayCount   int
	monthCount int
	spent      decimal.Decimal

	increments int
	successes  int
	costTotal  decimal.Decimal
}

func (f *fakeUsage) IncrementUsage(_ context.Context, _, _, _ string, success bool, callCost decimal.Decimal) error {
	f.increments++
	if success {
		f.successes++
	}
	f.costTotal = f.costTotal.Add(callCost)
	return nil
}

func (f *fakeUsage) MonthUsage(_ context.Context, _, _ string) (int, decimal.Decimal, error) {
	return f.monthCount, f.spent, nil
}

func (f *fakeUsage) DayUsage(_ context.Context, _, _ string) (int, error) {
	return f.dayCount, nil
}

func testLimiter(usage *fakeUsage, limits ProviderLimits) *Limiter {
	return New(usage, cost.NewCalculator(cost.DefaultRates()), map[string]ProviderLimits{
		"apollo": limits,
	})
}

func TestAcquireWithinLimits(t *testing.T) {
	usage := &fakeUsage{}
	l := testLimiter(usage, ProviderLimits{
		RequestsPerHour: 100,
		DailyLimit:      50,
		MonthlyRequests: 1000,
		MonthlyBudget:   decimal.NewFromInt(100),
	})

	permit, err := l.Acquire(context.Background(), "apollo", "search")
	require.NoError(t, err)
	require.NotNil(t, permit)

	permit.Complete(context.Background(), true)
	assert.Equal(t, 1, usage.increments)
	assert.Equal(t, 1, usage.successes)
	assert.True(t, usage.costTotal.Equal(decimal.NewFromFloat(0.01)))
}

func TestAcquireDailyLimitExceeded(t *testing.T) {
	usage := &fakeUsage{dayCount: 50}
	l := testLimiter(usage, ProviderLimits{DailyLimit: 50})

	_, err := l.Acquire(context.Background(), "apollo", "search")
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonDailyLimit, le.Reason)
	assert.True(t, le.Budgetary())
}

func TestAcquireMonthlyRequestsExceeded(t *testing.T) {
	usage := &fakeUsage{monthCount: 1000}
	l := testLimiter(usage, ProviderLimits{MonthlyRequests: 1000})

	_, err := l.Acquire(context.Background(), "apollo", "search")
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonMonthlyRequests, le.Reason)
}

func TestAcquireMonthlyBudgetExceeded(t *testing.T) {
	usage := &fakeUsage{spent: decimal.NewFromInt(100)}
	l := testLimiter(usage, ProviderLimits{MonthlyBudget: decimal.NewFromInt(100)})

	_, err := l.Acquire(context.Background(), "apollo", "search")
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonMonthlyBudget, le.Reason)
	assert.True(t, le.Budgetary())
}

func TestAcquireHourlyRateNotBudgetary(t *testing.T) {
	usage := &fakeUsage{}
	l := testLimiter(usage, ProviderLimits{RequestsPerHour: 1})

	_, err := l.Acquire(context.Background(), "apollo", "search")
	require.NoError(t, err)

	// Bucket allows the burst of 1; the second call is rate pressure.
	_, err = l.Acquire(context.Background(), "apollo", "search")
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonHourlyRate, le.Reason)
	assert.False(t, le.Budgetary())
}

func TestAcquireUnconfiguredProviderUnmetered(t *testing.T) {
	usage := &fakeUsage{dayCount: 999999}
	l := testLimiter(usage, ProviderLimits{DailyLimit: 1})

	permit, err := l.Acquire(context.Background(), "dropcontact", "verify")
	require.NoError(t, err)
	require.NotNil(t, permit)
}

func TestPermitCompleteOnce(t *testing.T) {
	calls := 0
	permit := NewPermit(func(context.Context, bool) { calls++ })
	permit.Complete(context.Background(), true)
	permit.Complete(context.Background(), false)
	assert.Equal(t, 1, calls)
}

func TestIsLimitExceeded(t *testing.T) {
	budgetary, ok := IsLimitExceeded(&LimitError{Provider: "apollo", Reason: ReasonMonthlyBudget})
	assert.True(t, ok)
	assert.True(t, budgetary)

	budgetary, ok = IsLimitExceeded(&LimitError{Provider: "apollo", Reason: ReasonHourlyRate})
	assert.True(t, ok)
	assert.False(t, budgetary)

	_, ok = IsLimitExceeded(context.DeadlineExceeded)
	assert.False(t, ok)
}

func TestUsageKeysUseInjectedClock(t *testing.T) {
	usage := &fakeUsage{}
	fixed := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	l := testLimiter(usage, ProviderLimits{DailyLimit: 10}).WithNow(func() time.Time { return fixed })

	permit, err := l.Acquire(context.Background(), "apollo", "search")
	require.NoError(t, err)
	permit.Complete(context.Background(), true)
	assert.Equal(t, 1, usage.increments)
}
