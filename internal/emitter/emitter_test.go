package emitter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/valwatch/duties-indexer/internal/domain"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestEmit_UnrateLimitedCategoryAlwaysDelivers(t *testing.T) {
	rec := &recordingNotifier{}
	e := New(rec, time.Hour, zerolog.Nop())

	for i := 0; i < 5; i++ {
		e.Emit(context.Background(), domain.Event{
			Kind:          domain.EventBlockProposed,
			BlockProposed: &domain.BlockProposed{Slot: domain.Slot(i)},
		})
	}
	assert.Equal(t, 5, rec.count())
}

func TestEmit_RateLimitedCategoryDropsWithinInterval(t *testing.T) {
	rec := &recordingNotifier{}
	e := New(rec, time.Hour, zerolog.Nop())

	for i := 0; i < 5; i++ {
		e.Emit(context.Background(), domain.Event{
			Kind:      domain.EventNodeStale,
			NodeStale: &domain.NodeStale{SlotsBehind: uint64(i)},
		})
	}
	// rate.Sometimes always lets the first call through, then withholds
	// until the interval elapses.
	assert.Equal(t, 1, rec.count())
}

func TestEmitAll_PreservesOrder(t *testing.T) {
	rec := &recordingNotifier{}
	e := New(rec, time.Hour, zerolog.Nop())

	events := []domain.Event{
		{Kind: domain.EventBlockProposed, BlockProposed: &domain.BlockProposed{Slot: 1}},
		{Kind: domain.EventBlockMissed, BlockMissed: &domain.BlockMissed{Slot: 2}},
	}
	e.EmitAll(context.Background(), events)

	assert.Len(t, rec.events, 2)
	assert.Equal(t, domain.EventBlockProposed, rec.events[0].Kind)
	assert.Equal(t, domain.EventBlockMissed, rec.events[1].Kind)
}
