package pipeline

// gate.go keeps staging runs from overlapping inside one process.
//
// A run must hold a gate slot for its whole duration. Callers that find the
// gate occupied wait up to maxWait and then fail with stage.ErrRunInProgress.
// WaitForDrain lets shutdown block until the active run finishes.

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/datastage/internal/stage"
)

// DefaultMaxWait is how long Acquire waits when no wait is configured.
const DefaultMaxWait = 5 * time.Second

// RunGate is a semaphore guarding staging runs.
type RunGate struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewRunGate creates a gate admitting at most maxConcurrent runs. Staging a
// single dataset root should always use 1.
func NewRunGate(maxConcurrent int, maxWait time.Duration) *RunGate {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &RunGate{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire waits for a slot. The caller must Release after a nil return.
func (g *RunGate) Acquire(ctx context.Context) error {
	timer := time.NewTimer(g.maxWait)
	defer timer.Stop()

	select {
	case g.semaphore <- struct{}{}:
		g.mu.Lock()
		g.active++
		g.mu.Unlock()
		return nil
	case <-timer.C:
		return stage.ErrRunInProgress
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without waiting.
func (g *RunGate) TryAcquire() bool {
	select {
	case g.semaphore <- struct{}{}:
		g.mu.Lock()
		g.active++
		g.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (g *RunGate) Release() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	<-g.semaphore
}

// ActiveCount returns the number of runs holding the gate.
func (g *RunGate) ActiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// WaitForDrain blocks until no run holds the gate or ctx ends.
func (g *RunGate) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if g.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GateStatus is a snapshot of the gate.
type GateStatus struct {
	Active        int  `json:"active"`
	Available     int  `json:"available"`
	MaxConcurrent int  `json:"max_concurrent"`
	Running       bool `json:"running"`
}

// Status returns the current gate state.
func (g *RunGate) Status() GateStatus {
	active := g.ActiveCount()
	return GateStatus{
		Active:        active,
		Available:     cap(g.semaphore) - len(g.semaphore),
		MaxConcurrent: cap(g.semaphore),
		Running:       active > 0,
	}
}
