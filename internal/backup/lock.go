package backup

import (
	"fmt"
	"strings"
	"sync"

	apperrors "multidb-backup/internal/errors"
)

// TargetLocker grants exclusive access to one database for the length of a run
type TargetLocker interface {
	// TryLock returns a release function, or false when key is already held
	TryLock(key string) (func(), bool)
}

// MemoryLocker is an in-process TargetLocker
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryLock implements TargetLocker
func (l *MemoryLocker) TryLock(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}

// Held reports whether key is currently locked
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[key]
	return busy
}

// noopLocker never refuses a lock
type noopLocker struct{}

func (noopLocker) TryLock(string) (func(), bool) {
	return func() {}, true
}

// NoopLocker returns a TargetLocker that never blocks
func NoopLocker() TargetLocker {
	return noopLocker{}
}

// targetKey identifies a database independent of how the engine tag was spelled
func targetKey(engineType, host string, port int, database string) string {
	return fmt.Sprintf("%s/%s:%d/%s", engineType, strings.ToLower(host), port, database)
}

func acquire(locker TargetLocker, key string) (func(), error) {
	release, ok := locker.TryLock(key)
	if !ok {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("another run is already working on %s", key), nil).
			WithContext("target", key)
	}
	return release, nil
}
