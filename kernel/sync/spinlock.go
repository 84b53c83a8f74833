// Package sync provides the synchronization primitives used by the
// allocators, the scheduler and the serial console. Unlike the standard
// library's sync package, these primitives never park a goroutine: there is
// no goroutine scheduler running below the Go runtime bootstrap, so the only
// available wait strategy is busy-spinning with an architecture pause hint.
package sync

import "sync/atomic"

// Spinlock implements a lock where a caller trying to acquire it busy-waits
// until the lock becomes available. Re-acquiring a lock already held by the
// current task deadlocks, since there is no ownership tracking.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryToAcquire attempts to acquire the lock without blocking and reports
// whether it succeeded.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock. Calling Release while the lock is free
// has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock is the architecture-specific busy-wait loop for
// acquiring the lock. It tries an atomic exchange and, while the lock is
// held, polls it with a pause instruction between reads before retrying the
// exchange. attemptsBeforeYielding is loaded but does not affect the loop.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)
