// Package emitter delivers typed events to the external Notifier in
// emission order, applying a per-category rate limit to NodeStale and
// InternalError so a flapping node or a failing batch run cannot flood
// the sink.
package emitter

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/valwatch/duties-indexer/internal/domain"
	"github.com/valwatch/duties-indexer/internal/ports"
)

// Emitter wraps a ports.Notifier with per-category rate limiting.
type Emitter struct {
	notifier ports.Notifier
	log      zerolog.Logger

	nodeStale     rate.Sometimes
	internalError rate.Sometimes
}

// New constructs an Emitter. rateLimit is the minimum interval between
// two delivered events of the same rate-limited category.
func New(notifier ports.Notifier, rateLimit time.Duration, log zerolog.Logger) *Emitter {
	return &Emitter{
		notifier:      notifier,
		log:           log.With().Str("component", "emitter").Logger(),
		nodeStale:     rate.Sometimes{Interval: rateLimit},
		internalError: rate.Sometimes{Interval: rateLimit},
	}
}

// Emit delivers event synchronously, dropping it if it belongs to a
// rate-limited category and the interval has not yet elapsed.
func (e *Emitter) Emit(ctx context.Context, event domain.Event) {
	switch event.Kind {
	case domain.EventNodeStale:
		e.emitRateLimited(ctx, &e.nodeStale, event)
	case domain.EventInternalError:
		e.emitRateLimited(ctx, &e.internalError, event)
	default:
		e.deliver(ctx, event)
	}
}

// EmitAll delivers a batch's events in order: the caller is
// responsible for having already sorted proposer-then-attestation-
// then-withdrawal events before calling this; EmitAll does not reorder.
func (e *Emitter) EmitAll(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		e.Emit(ctx, ev)
	}
}

func (e *Emitter) emitRateLimited(ctx context.Context, limiter *rate.Sometimes, event domain.Event) {
	delivered := false
	limiter.Do(func() {
		e.deliver(ctx, event)
		delivered = true
	})
	if !delivered {
		e.log.Debug().Str("kind", string(event.Kind)).Msg("rate-limited event dropped")
	}
}

func (e *Emitter) deliver(ctx context.Context, event domain.Event) {
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("notifier failed to deliver event")
	}
}
