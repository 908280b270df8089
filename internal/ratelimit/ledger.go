package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pscheid92/autoapply/internal/domain"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// MemoryLedger keeps admission timestamps per platform for single-process runs.
// Windows are rolling: an admission stops counting exactly one window after it happened.
type MemoryLedger struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{events: make(map[string][]time.Time)}
}

func (l *MemoryLedger) TryConsume(_ context.Context, platform string, now time.Time, limits domain.BudgetLimits) (domain.Admission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.prune(platform, now)
	hour := inWindow(events, now, hourWindow)
	day := events

	if len(hour) >= limits.Hourly || len(day) >= limits.Daily {
		var retryAt time.Time
		if len(hour) >= limits.Hourly {
			retryAt = hour[len(hour)-limits.Hourly].Add(hourWindow)
		}
		if len(day) >= limits.Daily {
			if t := day[len(day)-limits.Daily].Add(dayWindow); t.After(retryAt) {
				retryAt = t
			}
		}
		return domain.Admission{RetryAt: retryAt, Budget: remaining(len(hour), len(day), limits)}, nil
	}

	l.events[platform] = append(events, now)
	return domain.Admission{Allowed: true, Budget: remaining(len(hour)+1, len(day)+1, limits)}, nil
}

func (l *MemoryLedger) Remaining(_ context.Context, platform string, now time.Time, limits domain.BudgetLimits) (domain.Budget, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.prune(platform, now)
	return remaining(len(inWindow(events, now, hourWindow)), len(events), limits), nil
}

// prune drops admissions older than the daily window and returns the rest, oldest first.
func (l *MemoryLedger) prune(platform string, now time.Time) []time.Time {
	events := inWindow(l.events[platform], now, dayWindow)
	l.events[platform] = events
	return events
}

// inWindow returns the suffix of sorted events that happened after now-window.
func inWindow(events []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	for i, t := range events {
		if t.After(cutoff) {
			return events[i:]
		}
	}
	return nil
}

func remaining(hour, day int, limits domain.BudgetLimits) domain.Budget {
	return domain.Budget{
		HourlyRemaining: max(0, limits.Hourly-hour),
		DailyRemaining:  max(0, limits.Daily-day),
	}
}
