package tasks

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teledash/teledash/pkg/common/logger"
)

// Handler executes one unit of work.
type Handler func(ctx context.Context, unit Unit) error

// Dispatcher routes units of work to registered handlers. A bounded slot
// pool limits how many units run concurrently; every running unit is
// visible through the active registry until it completes.
type Dispatcher struct {
	log      *logger.Logger
	tracer   trace.Tracer
	registry ActiveRegistry
	slots    chan struct{}

	mu       sync.RWMutex
	handlers map[Kind]Handler

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with the given number of worker slots.
func NewDispatcher(log *logger.Logger, tracer trace.Tracer, registry ActiveRegistry, slots int) *Dispatcher {
	if slots <= 0 {
		slots = 1
	}
	return &Dispatcher{
		log:      log,
		tracer:   tracer,
		registry: registry,
		slots:    make(chan struct{}, slots),
		handlers: make(map[Kind]Handler),
	}
}

// Register binds a handler to a unit kind. Registering a kind twice
// replaces the previous handler.
func (d *Dispatcher) Register(kind Kind, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = handler
}

// Dispatch runs a unit of work on an available slot, blocking until one
// frees up. The unit is listed as active for the duration of its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, unit Unit) error {
	d.mu.RLock()
	handler, ok := d.handlers[unit.Kind]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for kind %q", unit.Kind)
	}

	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.slots }()

	d.registry.Add(unit)
	defer d.registry.Remove(unit.ID)

	ctx, span := d.tracer.Start(ctx, "tasks.dispatch",
		trace.WithAttributes(
			attribute.String("unit.id", unit.ID),
			attribute.String("unit.kind", string(unit.Kind)),
		))
	defer span.End()

	d.log.Info(ctx, "unit started", "unit_id", unit.ID, "kind", unit.Kind)

	if err := handler(ctx, unit); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unit failed")
		d.log.Error(ctx, "unit failed", "unit_id", unit.ID, "kind", unit.Kind, "error", err)
		return err
	}

	d.log.Info(ctx, "unit completed", "unit_id", unit.ID, "kind", unit.Kind)
	return nil
}

// Go dispatches a unit on a new goroutine, tracked for Wait.
func (d *Dispatcher) Go(ctx context.Context, unit Unit) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// The error is already logged and recorded by Dispatch.
		_ = d.Dispatch(ctx, unit)
	}()
}

// Wait blocks until every unit started with Go has completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
