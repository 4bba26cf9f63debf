package domain

// EventKind tags the variant an Event carries; the Emitter selects its
// per-category rate limit by it. Events are not deduplicated by kind.
type EventKind string

const (
	EventBlockProposed      EventKind = "block_proposed"
	EventBlockMissed        EventKind = "block_missed"
	EventAttestationMissed  EventKind = "attestation_missed"
	EventWithdrawalsBatched EventKind = "withdrawals_batched"
	EventNodeStale          EventKind = "node_stale"
	EventInternalError      EventKind = "internal_error"
)

// Event is the sum type emitted by the Reconciler and the Scheduler to
// the Event Emitter. Exactly one of the typed fields is set, matching
// Kind.
type Event struct {
	Kind EventKind

	BlockProposed      *BlockProposed
	BlockMissed        *BlockMissed
	AttestationMissed  *AttestationMissedBatch
	WithdrawalsBatched *WithdrawalsBatched
	NodeStale          *NodeStale
	InternalError      *InternalError
}

// BlockProposed is emitted when a monitored validator's proposer duty
// was fulfilled.
type BlockProposed struct {
	Validator       ValidatorIndex
	Label           Label
	Slot            Slot
	ExecBlockNumber *uint64
}

// BlockMissed is emitted when a monitored validator's proposer duty was
// not fulfilled.
type BlockMissed struct {
	Validator ValidatorIndex
	Label     Label
	Slot      Slot
}

// AttestationMissedBatch groups the attestation-missed events for one
// label over one batch; successful inclusions are never surfaced
// externally, so only misses are reported, batched.
type AttestationMissedBatch struct {
	Label      Label
	Validators []ValidatorIndex
	Slots      []Slot
}

// WithdrawalEntry is one validator's withdrawal within a
// WithdrawalsBatched event.
type WithdrawalEntry struct {
	Validator  ValidatorIndex
	AmountGwei uint64
	Slot       Slot
}

// WithdrawalsBatched groups withdrawal payouts for one label over one
// batch.
type WithdrawalsBatched struct {
	Label     Label
	Entries   []WithdrawalEntry
	TotalGwei uint64
}

// NodeStale is emitted when the beacon node's head lags the wall clock
// beyond the configured threshold.
type NodeStale struct {
	SlotsBehind uint64
}

// BatchRange names the (S_begin, S_end] range a batch-level error
// occurred in.
type BatchRange struct {
	Begin Slot
	End   Slot
}

// InternalError is emitted when a batch-level failure is converted to an
// event by the Scheduler.
type InternalError struct {
	Message    string
	BatchRange *BatchRange
}
