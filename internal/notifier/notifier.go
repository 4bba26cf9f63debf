// Package notifier provides the thin notification-sink adapters that
// sit downstream of the core: the core only produces typed events
// (internal/domain.Event); formatting and delivery live here, behind
// the ports.Notifier interface, and never feed back into the
// reconciliation logic.
package notifier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/valwatch/duties-indexer/internal/domain"
	"github.com/valwatch/duties-indexer/internal/ports"
)

// NoOp implements ports.Notifier by discarding every event. It is
// selected when the configuration snapshot sets test_mode.
type NoOp struct{}

// Notify implements ports.Notifier.
func (NoOp) Notify(context.Context, domain.Event) error { return nil }

// LogNotifier implements ports.Notifier by formatting each event as a
// structured log line. It is the default sink when no richer
// downstream notifier is configured, and a useful fallback when one
// fails.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

// Notify implements ports.Notifier.
func (n *LogNotifier) Notify(_ context.Context, event domain.Event) error {
	switch event.Kind {
	case domain.EventBlockProposed:
		e := event.BlockProposed
		n.log.Info().
			Uint64("validator", uint64(e.Validator)).
			Str("label", string(e.Label)).
			Uint64("slot", uint64(e.Slot)).
			Interface("exec_block_number", e.ExecBlockNumber).
			Msg("block proposed")

	case domain.EventBlockMissed:
		e := event.BlockMissed
		n.log.Warn().
			Uint64("validator", uint64(e.Validator)).
			Str("label", string(e.Label)).
			Uint64("slot", uint64(e.Slot)).
			Msg("block missed")

	case domain.EventAttestationMissed:
		e := event.AttestationMissed
		n.log.Warn().
			Str("label", string(e.Label)).
			Int("validators", len(e.Validators)).
			Int("slots", len(e.Slots)).
			Msg("attestations missed")

	case domain.EventWithdrawalsBatched:
		e := event.WithdrawalsBatched
		n.log.Info().
			Str("label", string(e.Label)).
			Int("entries", len(e.Entries)).
			Uint64("total_gwei", e.TotalGwei).
			Msg("withdrawals batched")

	case domain.EventNodeStale:
		e := event.NodeStale
		n.log.Error().
			Uint64("slots_behind", e.SlotsBehind).
			Msg("beacon node head is stale")

	case domain.EventInternalError:
		e := event.InternalError
		entry := n.log.Error().Str("message", e.Message)
		if e.BatchRange != nil {
			entry = entry.Uint64("batch_begin", uint64(e.BatchRange.Begin)).Uint64("batch_end", uint64(e.BatchRange.End))
		}
		entry.Msg("internal error")

	default:
		return fmt.Errorf("notifier: unknown event kind %q", event.Kind)
	}
	return nil
}

// ForTestMode returns NoOp{} when testMode is set, otherwise fallback.
// Core behavior is unaffected either way; only delivery is swapped.
func ForTestMode(testMode bool, fallback ports.Notifier) ports.Notifier {
	if testMode {
		return NoOp{}
	}
	return fallback
}
