package deployment

import (
	"context"
	"errors"
)

// ErrBusy is returned when the gate cannot be acquired.
var ErrBusy = errors.New("deployment already in progress")

// Gate serializes deployments so that two webhook deliveries never rebuild
// the site at the same time.
//
// It is a single-slot semaphore: Acquire blocks until the slot is free or the
// context ends, TryAcquire never blocks.
type Gate struct {
	slot chan struct{}
}

// NewGate creates an unlocked gate.
func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// Acquire waits for the gate. It returns ErrBusy wrapped with the context
// error if ctx ends first.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		return nil
	default:
	}

	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrBusy, ctx.Err())
	}
}

// TryAcquire takes the gate if it is free and reports whether it did.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the gate. Releasing an unlocked gate is a no-op.
func (g *Gate) Release() {
	select {
	case <-g.slot:
	default:
	}
}

// Busy reports whether a deployment currently holds the gate.
func (g *Gate) Busy() bool {
	return len(g.slot) == 1
}
