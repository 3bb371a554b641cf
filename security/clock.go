package security

import "time"

// Clock returns the current time. Limiters and the auditor take one so tests
// can drive windows and timestamps deterministically.
type Clock func() time.Time

// systemClock is the default Clock
func systemClock() time.Time {
	return time.Now()
}

// clockOrDefault returns c, or the system clock when c is nil
func clockOrDefault(c Clock) Clock {
	if c == nil {
		return systemClock
	}
	return c
}
