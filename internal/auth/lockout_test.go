package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockoutTriggersAfterFiveFailures(t *testing.T) {
	l := NewLockout()
	defer l.Destroy()

	now := time.Now()
	for i := 0; i < 4; i++ {
		locked := l.RecordFailure("1.2.3.4", now)
		require.False(t, locked)
	}
	locked := l.RecordFailure("1.2.3.4", now)
	require.True(t, locked)
	require.True(t, l.IsLocked("1.2.3.4", now))
}

func TestLockoutRejectsWithinWindowWithoutCheckingToken(t *testing.T) {
	l := NewLockout()
	defer l.Destroy()

	now := time.Now()
	for i := 0; i < 5; i++ {
		l.RecordFailure("5.6.7.8", now)
	}
	require.True(t, l.IsLocked("5.6.7.8", now.Add(14*time.Minute)))
	require.False(t, l.IsLocked("5.6.7.8", now.Add(15*time.Minute+time.Second)))
}

func TestLockoutIsPerSource(t *testing.T) {
	l := NewLockout()
	defer l.Destroy()

	now := time.Now()
	for i := 0; i < 5; i++ {
		l.RecordFailure("9.9.9.9", now)
	}
	require.True(t, l.IsLocked("9.9.9.9", now))
	require.False(t, l.IsLocked("1.1.1.1", now))
}

func TestLockoutWindowResetsAfterFiveMinutes(t *testing.T) {
	l := NewLockout()
	defer l.Destroy()

	now := time.Now()
	for i := 0; i < 4; i++ {
		l.RecordFailure("2.2.2.2", now)
	}
	later := now.Add(6 * time.Minute)
	locked := l.RecordFailure("2.2.2.2", later)
	require.False(t, locked, "failure count should reset once the 5-minute window elapses")
}

func TestLockoutRecordSuccessClearsFailures(t *testing.T) {
	l := NewLockout()
	defer l.Destroy()

	now := time.Now()
	for i := 0; i < 4; i++ {
		l.RecordFailure("3.3.3.3", now)
	}
	l.RecordSuccess("3.3.3.3")
	locked := l.RecordFailure("3.3.3.3", now)
	require.False(t, locked)
}

func TestLockoutEvictsOldestWhenAtCapacity(t *testing.T) {
	l := NewLockout()
	defer l.Destroy()

	now := time.Now()
	l.RecordFailure("oldest", now)

	l.mu.Lock()
	for i := len(l.entries); i < lockoutMaxEntries; i++ {
		l.entries[string(rune(i))] = &lockoutEntry{lastSeen: now.Add(time.Duration(i) * time.Millisecond)}
	}
	l.mu.Unlock()

	l.RecordFailure("newest", now.Add(time.Hour))

	l.mu.Lock()
	_, stillPresent := l.entries["oldest"]
	count := len(l.entries)
	l.mu.Unlock()

	require.False(t, stillPresent, "oldest entry should have been evicted at capacity")
	require.LessOrEqual(t, count, lockoutMaxEntries)
}

func TestLockoutSweepRemovesExpiredEntries(t *testing.T) {
	l := NewLockout()
	defer l.Destroy()

	now := time.Now()
	l.RecordFailure("stale", now)

	l.sweep(now.Add(lockoutFailureWindow + time.Minute))

	l.mu.Lock()
	_, present := l.entries["stale"]
	l.mu.Unlock()
	require.False(t, present)
}
