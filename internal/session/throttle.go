package session

import "time"

// loginThrottle admits at most max logins in any rolling window. It is owned
// by the lane goroutine.
type loginThrottle struct {
	max    int
	window time.Duration
	logins []time.Time // oldest first
}

func newLoginThrottle(max int, window time.Duration) *loginThrottle {
	return &loginThrottle{max: max, window: window}
}

// allow records a login at now when the window has room for it.
func (l *loginThrottle) allow(now time.Time) bool {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.logins) && !l.logins[i].After(cutoff) {
		i++
	}
	l.logins = l.logins[i:]

	if len(l.logins) >= l.max {
		return false
	}
	l.logins = append(l.logins, now)
	return true
}
