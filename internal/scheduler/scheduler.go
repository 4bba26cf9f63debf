// Package scheduler implements the outer polling loop: it advances the
// safe-slot frontier, partitions unprocessed slots into batches,
// prefetches committees and blocks with a bounded concurrent fan-out,
// invokes the Reconciler, and persists the cursor before moving on. It
// is the only layer that converts batch-level failures into
// InternalError events.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/valwatch/duties-indexer/internal/beaconerr"
	"github.com/valwatch/duties-indexer/internal/domain"
	"github.com/valwatch/duties-indexer/internal/emitter"
	"github.com/valwatch/duties-indexer/internal/metrics"
	"github.com/valwatch/duties-indexer/internal/ports"
	"github.com/valwatch/duties-indexer/internal/reconciler"
)

// Config parameterizes the Scheduler.
type Config struct {
	BatchSize             uint64
	PollingInterval       time.Duration
	EpochsBeforeFinal     uint64
	MaxConcurrentRequests int
	StaleThresholdSlots   uint64
	GenesisTime           int64 // UNIX seconds; domain.MainnetGenesisTime by default
}

// Scheduler drives the Slot Processing Core's outer polling loop.
type Scheduler struct {
	cfg Config
	log zerolog.Logger

	beacon      ports.BeaconChainAdapter
	cursorStore ports.CursorStore
	reconciler  *reconciler.Reconciler
	emitter     *emitter.Emitter
	metrics     *metrics.Registry

	onBlockProposed func(ctx context.Context, slot domain.Slot, execBlockNumber uint64)

	cursor domain.Slot
}

// New constructs a Scheduler. onBlockProposed, if non-nil, is called
// synchronously after each batch's events are emitted, once for every
// BlockProposed event with a known execution block number — this is the
// MEV-reward lookup hook; the hook cmd/main.go installs starts the
// lookup in its own goroutine.
func New(
	cfg Config,
	beacon ports.BeaconChainAdapter,
	cursorStore ports.CursorStore,
	rec *reconciler.Reconciler,
	em *emitter.Emitter,
	m *metrics.Registry,
	onBlockProposed func(ctx context.Context, slot domain.Slot, execBlockNumber uint64),
	log zerolog.Logger,
) *Scheduler {
	if cfg.GenesisTime == 0 {
		cfg.GenesisTime = domain.MainnetGenesisTime
	}
	return &Scheduler{
		cfg:             cfg,
		log:             log.With().Str("component", "scheduler").Logger(),
		beacon:          beacon,
		cursorStore:     cursorStore,
		reconciler:      rec,
		emitter:         em,
		metrics:         m,
		onBlockProposed: onBlockProposed,
	}
}

// Run loops until ctx is cancelled. It loads the persisted cursor once
// at startup and never lets it regress.
func (s *Scheduler) Run(ctx context.Context) error {
	cursor, err := s.cursorStore.Load(ctx)
	if err != nil {
		return err
	}
	s.cursor = cursor
	if s.metrics != nil {
		s.metrics.CursorSlot.Set(float64(uint64(s.cursor)))
	}

	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	headSlot, err := s.beacon.HeadSlot(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch head slot")
		s.emitInternalError(ctx, err.Error(), nil)
		return
	}

	s.checkStale(ctx, headSlot)

	headEpoch := headSlot.Epoch()
	safeEpoch := domain.Epoch(0)
	if uint64(headEpoch) > s.cfg.EpochsBeforeFinal {
		safeEpoch = headEpoch - domain.Epoch(s.cfg.EpochsBeforeFinal)
	}
	safeSlot := safeEpoch.FirstSlot()

	if safeSlot <= s.cursor {
		return
	}

	for begin := s.cursor; begin < safeSlot; {
		end := begin + domain.Slot(s.cfg.BatchSize)
		if end > safeSlot {
			end = safeSlot
		}
		if err := s.runBatch(ctx, begin, end); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				// Shutting down mid-batch: the reconciler step never ran,
				// so the cursor must not move past these slots, or their
				// events would be silently dropped forever.
				s.log.Warn().Uint64("begin", uint64(begin)).Uint64("end", uint64(end)).Msg("batch aborted by shutdown; cursor left unadvanced")
				return
			}
			s.log.Error().Err(err).Uint64("begin", uint64(begin)).Uint64("end", uint64(end)).Msg("batch failed")
			// Deliberate at-most-once policy: advance the cursor past
			// the failing batch so the system remains live.
			s.advanceCursor(ctx, end)
			if s.metrics != nil {
				s.metrics.BatchErrors.Inc()
			}
			s.emitInternalError(ctx, err.Error(), &domain.BatchRange{Begin: begin, End: end})
		}
		begin = end
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) checkStale(ctx context.Context, headSlot domain.Slot) {
	expectedSlot := domain.Slot(uint64(time.Now().Unix()-s.cfg.GenesisTime) / domain.SecondsPerSlot)
	if uint64(expectedSlot) <= uint64(headSlot) {
		return
	}
	behind := uint64(expectedSlot) - uint64(headSlot)
	if behind <= s.cfg.StaleThresholdSlots {
		return
	}
	s.emitter.Emit(ctx, domain.Event{
		Kind:      domain.EventNodeStale,
		NodeStale: &domain.NodeStale{SlotsBehind: behind},
	})
}

// runBatch prefetches committees, proposer duties, and blocks for the
// inclusion window, then reconciles and persists the cursor.
func (s *Scheduler) runBatch(ctx context.Context, begin, end domain.Slot) error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.BatchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	committees, err := s.fetchCommittees(ctx, begin, end)
	if err != nil {
		return &beaconerr.BatchError{BatchBegin: uint64(begin), BatchEnd: uint64(end), Cause: err}
	}

	duties, err := s.fetchProposerDuties(ctx, begin, end)
	if err != nil {
		return &beaconerr.BatchError{BatchBegin: uint64(begin), BatchEnd: uint64(end), Cause: err}
	}

	blocks, skippedSlots := s.fetchBlocks(ctx, begin+1, end+domain.Slot(domain.SlotsPerEpoch))
	for _, sk := range skippedSlots {
		s.log.Warn().Uint64("slot", uint64(sk)).Msg("slot skipped: transient fetch error")
		if s.metrics != nil {
			s.metrics.SlotsSkipped.Inc()
		}
	}

	result := s.reconciler.Reconcile(reconciler.Batch{
		Begin:          begin,
		End:            end,
		ProposerDuties: duties,
		Committees:     committees,
		Blocks:         blocks,
	})
	if s.metrics != nil {
		// result.SkippedSlots are the block-fetch skips already counted
		// above; add the slots whose committees were unavailable.
		for slot := begin + 1; slot <= end; slot++ {
			if _, ok := committees[slot]; !ok {
				s.metrics.SlotsSkipped.Inc()
			}
		}
	}

	s.emitter.EmitAll(ctx, result.Events)
	s.triggerRewardLookups(ctx, result.Events)

	s.advanceCursor(ctx, end)
	return nil
}

func (s *Scheduler) triggerRewardLookups(ctx context.Context, events []domain.Event) {
	if s.onBlockProposed == nil {
		return
	}
	for _, ev := range events {
		if ev.Kind != domain.EventBlockProposed || ev.BlockProposed.ExecBlockNumber == nil {
			continue
		}
		s.onBlockProposed(ctx, ev.BlockProposed.Slot, *ev.BlockProposed.ExecBlockNumber)
	}
}

// fetchCommittees prefetches committees for every slot in (begin, end],
// bounded by the client's own concurrency ceiling; fan-out here is
// capped again at the Scheduler level via errgroup.SetLimit so the
// committee-prefetch and block-fetch phases share one concurrency
// ceiling.
func (s *Scheduler) fetchCommittees(ctx context.Context, begin, end domain.Slot) (map[domain.Slot][]domain.Committee, error) {
	out := make(map[domain.Slot][]domain.Committee)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentRequests)

	for slot := begin + 1; slot <= end; slot++ {
		slot := slot
		g.Go(func() error {
			committees, err := s.beacon.Committees(gctx, slot)
			if err != nil {
				var skipped *beaconerr.SlotSkipped
				if errors.As(err, &skipped) {
					s.log.Warn().Uint64("slot", uint64(slot)).Msg("committees unavailable: skipping slot")
					return nil
				}
				return err
			}
			mu.Lock()
			out[slot] = committees
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scheduler) fetchProposerDuties(ctx context.Context, begin, end domain.Slot) ([]domain.ProposerDuty, error) {
	firstEpoch := (begin + 1).Epoch()
	lastEpoch := end.Epoch()

	var out []domain.ProposerDuty
	for epoch := firstEpoch; epoch <= lastEpoch; epoch++ {
		duties, err := s.beacon.ProposerDuties(ctx, epoch)
		if err != nil {
			var skipped *beaconerr.SlotSkipped
			if errors.As(err, &skipped) {
				s.log.Warn().Uint64("epoch", uint64(epoch)).Msg("proposer duties unavailable: skipping epoch")
				continue
			}
			return nil, err
		}
		out = append(out, duties...)
	}
	return out, nil
}

// fetchBlocks fetches every slot in [from, to] concurrently, bounded by
// the Scheduler's concurrency cap. A per-slot TransientFetchError is
// recorded as a skip rather than aborting the whole fetch; MissedSlot
// is recorded as a nil entry (tombstone).
func (s *Scheduler) fetchBlocks(ctx context.Context, from, to domain.Slot) (map[domain.Slot]*domain.Block, []domain.Slot) {
	out := make(map[domain.Slot]*domain.Block)
	var skipped []domain.Slot
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentRequests)

	for slot := from; slot <= to; slot++ {
		slot := slot
		g.Go(func() error {
			block, err := s.beacon.Block(gctx, slot)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped = append(skipped, slot)
				return nil
			}
			out[slot] = block // nil for a missed slot
			return nil
		})
	}
	_ = g.Wait() // errors are recorded as skips above; nothing to propagate
	return out, skipped
}

func (s *Scheduler) advanceCursor(ctx context.Context, slot domain.Slot) {
	if slot < s.cursor {
		// Cursor must never regress; this should be unreachable given
		// batches are always built from (cursor, safe_slot].
		s.log.Error().Uint64("current", uint64(s.cursor)).Uint64("attempted", uint64(slot)).
			Msg("refusing to move cursor backwards")
		return
	}
	if err := s.cursorStore.Save(ctx, slot); err != nil {
		s.log.Error().Err(err).Uint64("slot", uint64(slot)).Msg("failed to persist cursor")
		return
	}
	s.cursor = slot
	if s.metrics != nil {
		s.metrics.CursorSlot.Set(float64(uint64(slot)))
	}
}

func (s *Scheduler) emitInternalError(ctx context.Context, message string, batchRange *domain.BatchRange) {
	s.emitter.Emit(ctx, domain.Event{
		Kind: domain.EventInternalError,
		InternalError: &domain.InternalError{
			Message:    message,
			BatchRange: batchRange,
		},
	})
}
