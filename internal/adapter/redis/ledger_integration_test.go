package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestBudgetLedger_HourlyWindow(t *testing.T) {
	ledger := NewBudgetLedger(setupTestClient(t))
	ctx := context.Background()
	limits := domain.BudgetLimits{Hourly: 2, Daily: 10}

	adm, err := ledger.TryConsume(ctx, "seek", t0, limits)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, domain.Budget{HourlyRemaining: 1, DailyRemaining: 9}, adm.Budget)

	adm, err = ledger.TryConsume(ctx, "seek", t0.Add(10*time.Minute), limits)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)

	adm, err = ledger.TryConsume(ctx, "seek", t0.Add(20*time.Minute), limits)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, t0.Add(time.Hour), adm.RetryAt)
	assert.Equal(t, 0, adm.Budget.HourlyRemaining)

	adm, err = ledger.TryConsume(ctx, "seek", t0.Add(time.Hour), limits)
	require.NoError(t, err)
	assert.True(t, adm.Allowed, "the first admission stops counting after exactly one hour")
}

func TestBudgetLedger_DailyWindow(t *testing.T) {
	ledger := NewBudgetLedger(setupTestClient(t))
	ctx := context.Background()
	limits := domain.BudgetLimits{Hourly: 5, Daily: 2}

	for i := range 2 {
		adm, err := ledger.TryConsume(ctx, "linkedin", t0.Add(time.Duration(i)*2*time.Hour), limits)
		require.NoError(t, err)
		require.True(t, adm.Allowed)
	}

	adm, err := ledger.TryConsume(ctx, "linkedin", t0.Add(5*time.Hour), limits)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, t0.Add(24*time.Hour), adm.RetryAt)

	b, err := ledger.Remaining(ctx, "linkedin", t0.Add(24*time.Hour), limits)
	require.NoError(t, err)
	assert.Equal(t, domain.Budget{HourlyRemaining: 5, DailyRemaining: 1}, b)
}

func TestBudgetLedger_PlatformsAreIndependent(t *testing.T) {
	ledger := NewBudgetLedger(setupTestClient(t))
	ctx := context.Background()
	limits := domain.BudgetLimits{Hourly: 1, Daily: 1}

	adm, err := ledger.TryConsume(ctx, "seek", t0, limits)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)

	adm, err = ledger.TryConsume(ctx, "linkedin", t0, limits)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)

	b, err := ledger.Remaining(ctx, "indeed", t0, limits)
	require.NoError(t, err)
	assert.Equal(t, domain.Budget{HourlyRemaining: 1, DailyRemaining: 1}, b)
}

func TestBudgetLedger_ConcurrentConsumersNeverOvershoot(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	limits := domain.BudgetLimits{Hourly: 5, Daily: 100}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ledger := NewBudgetLedger(client)
			adm, err := ledger.TryConsume(ctx, "seek", t0.Add(time.Duration(i)*time.Millisecond), limits)
			assert.NoError(t, err)
			if adm.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}
