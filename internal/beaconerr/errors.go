// Package beaconerr declares the error kinds the Beacon Client, the SSZ
// decoder and the Scheduler classify failures into, per the error
// handling design. Each kind is a distinct type so callers can
// distinguish them with errors.As rather than string matching.
package beaconerr

import "fmt"

// MissedSlot is not an error condition; the Beacon Client uses it
// internally to signal a 404 on a block fetch, meaning the slot was
// missed. It is a distinguishable type so a missed slot can be told
// apart from a transient fetch failure; Client.Block turns it into a
// nil block with a nil error before returning.
type MissedSlot struct {
	Slot uint64
}

func (e *MissedSlot) Error() string {
	return fmt.Sprintf("slot %d was missed (no block proposed)", e.Slot)
}

// SlotSkipped is returned when the beacon node answers 404 for a
// slot's committees (or publishes none for that slot), or 404 for an
// epoch's proposer duties; the slot or epoch is skipped for the current
// batch and never cached. Other non-2xx answers are reported as
// TransientFetchError.
type SlotSkipped struct {
	Slot   uint64
	Reason string
}

func (e *SlotSkipped) Error() string {
	return fmt.Sprintf("slot %d skipped: %s", e.Slot, e.Reason)
}

// TransientFetchError wraps a single request failure: timeout, 5xx, or a
// transport-level error. At slot scope the caller skips the slot; at
// batch scope the caller aborts the batch.
type TransientFetchError struct {
	Op    string
	Cause error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error during %s: %v", e.Op, e.Cause)
}

func (e *TransientFetchError) Unwrap() error { return e.Cause }

// DecodeError marks a malformed SSZ bit structure or a committee/index
// mismatch. The offending attestation is discarded; reconciliation
// continues.
type DecodeError struct {
	Context string
	Cause   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error (%s): %v", e.Context, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// ConfigurationError is fatal at startup only: a missing/empty validator
// set, or an unreachable beacon node.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// BatchError wraps whatever caused a batch to abort; the Scheduler
// converts it into an InternalError event and advances the cursor
// anyway (the at-most-once policy, see DESIGN.md).
type BatchError struct {
	BatchBegin uint64
	BatchEnd   uint64
	Cause      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch (%d, %d] failed: %v", e.BatchBegin, e.BatchEnd, e.Cause)
}

func (e *BatchError) Unwrap() error { return e.Cause }
