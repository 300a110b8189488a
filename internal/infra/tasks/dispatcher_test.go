package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/teledash/teledash/pkg/common/logger"
)

func newTestDispatcher(slots int) (*Dispatcher, ActiveRegistry) {
	registry := NewMemoryRegistry()
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewDispatcher(logger.Noop(), tracer, registry, slots), registry
}

func TestDispatcherRunsHandler(t *testing.T) {
	d, _ := newTestDispatcher(2)

	var got Unit
	d.Register(KindScrapeChats, func(ctx context.Context, unit Unit) error {
		got = unit
		return nil
	})

	unit, err := newUnit(KindScrapeChats, map[string]any{"session_id": "s1"})
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), unit))
	assert.Equal(t, unit.ID, got.ID)
}

func TestDispatcherRejectsUnknownKind(t *testing.T) {
	d, _ := newTestDispatcher(1)

	err := d.Dispatch(context.Background(), Unit{ID: "u1", Kind: Kind("unknown")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")
}

func TestDispatcherTracksActiveUnits(t *testing.T) {
	d, registry := newTestDispatcher(2)

	started := make(chan struct{})
	release := make(chan struct{})
	d.Register(KindScrapeChats, func(ctx context.Context, unit Unit) error {
		close(started)
		<-release
		return nil
	})

	unit, err := newUnit(KindScrapeChats, nil)
	require.NoError(t, err)
	d.Go(context.Background(), unit)

	<-started
	active := registry.List(KindScrapeChats)
	require.Len(t, active, 1)
	assert.Equal(t, unit.ID, active[0].ID)

	// Other kinds see nothing.
	assert.Empty(t, registry.List(KindPurgeAttachments))

	close(release)
	d.Wait()
	assert.Empty(t, registry.List())
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	d, _ := newTestDispatcher(2)

	var running, peak atomic.Int32
	var mu sync.Mutex
	d.Register(KindScrapeChats, func(ctx context.Context, unit Unit) error {
		n := running.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	for i := 0; i < 6; i++ {
		unit, err := newUnit(KindScrapeChats, nil)
		require.NoError(t, err)
		d.Go(context.Background(), unit)
	}
	d.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMemoryQueueSubmitAndListActive(t *testing.T) {
	d, registry := newTestDispatcher(2)
	q := NewMemoryQueue(d, registry)

	done := make(chan Unit, 1)
	d.Register(KindDownloadAttachments, func(ctx context.Context, unit Unit) error {
		done <- unit
		return nil
	})

	type args struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, q.Submit(context.Background(), KindDownloadAttachments, args{SessionID: "s1"}))

	select {
	case unit := <-done:
		var decoded args
		require.NoError(t, unit.UnmarshalArgs(&decoded))
		assert.Equal(t, "s1", decoded.SessionID)
	case <-time.After(time.Second):
		t.Fatal("unit never dispatched")
	}

	q.Wait()
	active, err := q.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDispatcherReturnsHandlerError(t *testing.T) {
	d, registry := newTestDispatcher(1)

	boom := errors.New("boom")
	d.Register(KindProcessAttachments, func(ctx context.Context, unit Unit) error {
		return boom
	})

	unit, err := newUnit(KindProcessAttachments, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, d.Dispatch(context.Background(), unit), boom)
	assert.Empty(t, registry.List())
}
