package cdrom

import (
	"sync"
	"sync/atomic"
)

// lockOwner records who the bus lock is held for while a non-blocking DMA
// transfer is in flight.
type lockOwner int32

const (
	ownerNone    lockOwner = iota // Held by the operation in progress, if at all
	ownerCaller                   // Handed to the completion path by a caller
	ownerForeign                  // Handed over from interrupt context
)

func (o lockOwner) String() string {
	switch o {
	case ownerCaller:
		return "caller"
	case ownerForeign:
		return "interrupt"
	default:
		return "none"
	}
}

// busLock serializes all traffic to the controller. The hardware accepts a
// single outstanding command, so every operation holds the lock across its
// whole submit and poll lifecycle.
//
// The lock may be released by a goroutine other than the one that acquired
// it: a non-blocking DMA request leaves it held and the completion
// coordinator releases it when the transfer finishes.
type busLock struct {
	mu   sync.Mutex
	held atomic.Bool
}

func (l *busLock) Lock() {
	l.mu.Lock()
	l.held.Store(true)
}

// TryLock acquires the lock if it is free. Interrupt context never blocks
// on the bus lock.
func (l *busLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	l.held.Store(true)
	return true
}

func (l *busLock) Unlock() {
	l.held.Store(false)
	l.mu.Unlock()
}

// lockFor acquires the lock, or only tries to when ctx is interrupt context.
func (l *busLock) lockFor(irq bool) bool {
	if irq {
		return l.TryLock()
	}
	l.Lock()
	return true
}

func (l *busLock) isHeld() bool {
	return l.held.Load()
}

// semaphore is a counting semaphore. Signal never blocks, which makes it
// usable from the completion coordinator.
type semaphore struct {
	ch chan struct{}
}

// semaphoreDepth bounds outstanding signals. Each command signals at most
// once, so a few slots are plenty.
const semaphoreDepth = 8

func newSemaphore() *semaphore {
	return &semaphore{ch: make(chan struct{}, semaphoreDepth)}
}

func (s *semaphore) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *semaphore) Wait() {
	<-s.ch
}

func (s *semaphore) TryWait() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (s *semaphore) Count() int {
	return len(s.ch)
}

// Drain consumes every pending signal.
func (s *semaphore) Drain() {
	for s.TryWait() {
	}
}
