// Package ports declares the hexagonal boundaries of the slot
// processing core: everything the Scheduler and the Reconciler depend
// on but do not implement themselves.
package ports

import (
	"context"

	"github.com/valwatch/duties-indexer/internal/domain"
)

// BeaconChainAdapter is the port the Beacon Client implements over the
// underlying beacon-node HTTP API. It is the only dependency the
// Scheduler and Reconciler have on the outside world for chain data.
type BeaconChainAdapter interface {
	// HeadSlot returns the current head slot known by the node.
	HeadSlot(ctx context.Context) (domain.Slot, error)

	// Block returns the block at slot, or nil if the slot was missed
	// (404). Any other failure is returned as an error.
	Block(ctx context.Context, slot domain.Slot) (*domain.Block, error)

	// Committees returns the ordered committee list for slot.
	Committees(ctx context.Context, slot domain.Slot) ([]domain.Committee, error)

	// ProposerDuties returns the proposer duties for epoch.
	ProposerDuties(ctx context.Context, epoch domain.Epoch) ([]domain.ProposerDuty, error)

	// ActiveValidatorIndices returns every active validator index known
	// to the node, used as a fallback when no validator set is
	// configured.
	ActiveValidatorIndices(ctx context.Context) ([]domain.ValidatorIndex, error)
}

// CursorStore persists the last fully processed slot so the Scheduler
// can resume forward motion across restarts.
type CursorStore interface {
	Load(ctx context.Context) (domain.Slot, error)
	Save(ctx context.Context, slot domain.Slot) error
}

// Notifier is the external notification sink. The core only emits typed
// events; formatting and delivery belong entirely to the notifier.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event) error
}

// RewardLookup performs the fire-and-forget MEV-reward enrichment
// triggered by BlockProposed. cmd/main.go runs each lookup through
// mevlookup.Spawn, which starts it as an unsupervised goroutine and
// only logs its error.
type RewardLookup interface {
	LookupReward(ctx context.Context, slot domain.Slot, execBlockNumber uint64) error
}
