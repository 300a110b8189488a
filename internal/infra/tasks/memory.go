package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is the in-process Queue: submitted units are dispatched
// directly on the local dispatcher. Suitable for single-process
// deployments and tests.
type MemoryQueue struct {
	dispatcher *Dispatcher
	registry   ActiveRegistry
}

// NewMemoryQueue creates a MemoryQueue backed by the given dispatcher and
// registry. The registry must be the same one the dispatcher records
// in-flight units in.
func NewMemoryQueue(dispatcher *Dispatcher, registry ActiveRegistry) *MemoryQueue {
	return &MemoryQueue{dispatcher: dispatcher, registry: registry}
}

// Submit marshals args and dispatches the unit on a background goroutine.
func (q *MemoryQueue) Submit(ctx context.Context, kind Kind, args any) error {
	unit, err := newUnit(kind, args)
	if err != nil {
		return err
	}
	q.dispatcher.Go(context.WithoutCancel(ctx), unit)
	return nil
}

// ListActive returns the in-flight units matching the given kinds.
func (q *MemoryQueue) ListActive(_ context.Context, kinds ...Kind) ([]Unit, error) {
	return q.registry.List(kinds...), nil
}

// Wait blocks until every submitted unit has completed.
func (q *MemoryQueue) Wait() {
	q.dispatcher.Wait()
}

func newUnit(kind Kind, args any) (Unit, error) {
	unit := Unit{
		ID:         uuid.New().String(),
		Kind:       kind,
		EnqueuedAt: time.Now().UTC(),
	}

	if args != nil {
		payload, err := json.Marshal(args)
		if err != nil {
			return Unit{}, fmt.Errorf("marshaling unit args: %w", err)
		}
		unit.Args = payload
	}

	return unit, nil
}
