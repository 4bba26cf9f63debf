package reconciler

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valwatch/duties-indexer/internal/domain"
)

func newTestReconciler(t *testing.T, byLabel map[domain.Label][]domain.ValidatorIndex) *Reconciler {
	t.Helper()
	ms, err := domain.NewMonitoredSet(byLabel)
	require.NoError(t, err)
	return New(ms, zerolog.Nop())
}

func findEvent(events []domain.Event, kind domain.EventKind) *domain.Event {
	for i := range events {
		if events[i].Kind == kind {
			return &events[i]
		}
	}
	return nil
}

func TestReconcileProposers_SuccessAndMiss(t *testing.T) {
	r := newTestReconciler(t, map[domain.Label][]domain.ValidatorIndex{"op": {5, 6}})

	execBlockNumber := uint64(999)
	b := Batch{
		Begin: 100,
		End:   102,
		ProposerDuties: []domain.ProposerDuty{
			{Slot: 101, ValidatorIndex: 5},
			{Slot: 102, ValidatorIndex: 6},
		},
		Blocks: map[domain.Slot]*domain.Block{
			101: {Slot: 101, ProposerIndex: 5, ExecBlockNumber: &execBlockNumber},
			102: nil, // missed slot tombstone
		},
	}

	events := r.reconcileProposers(b)
	require.Len(t, events, 2)

	proposed := events[0]
	assert.Equal(t, domain.EventBlockProposed, proposed.Kind)
	assert.Equal(t, domain.ValidatorIndex(5), proposed.BlockProposed.Validator)
	assert.Equal(t, domain.Label("op"), proposed.BlockProposed.Label)
	assert.Equal(t, &execBlockNumber, proposed.BlockProposed.ExecBlockNumber)

	missed := events[1]
	assert.Equal(t, domain.EventBlockMissed, missed.Kind)
	assert.Equal(t, domain.ValidatorIndex(6), missed.BlockMissed.Validator)
	assert.Equal(t, domain.Slot(102), missed.BlockMissed.Slot)
}

func TestReconcileProposers_SkipsSlotsOutsideWindow(t *testing.T) {
	r := newTestReconciler(t, map[domain.Label][]domain.ValidatorIndex{"op": {5}})
	b := Batch{
		Begin: 100,
		End:   101,
		ProposerDuties: []domain.ProposerDuty{
			{Slot: 100, ValidatorIndex: 5}, // == Begin, excluded
			{Slot: 102, ValidatorIndex: 5}, // > End, excluded
		},
	}
	assert.Empty(t, r.reconcileProposers(b))
}

func TestReconcileProposers_IgnoresUnmonitoredValidators(t *testing.T) {
	r := newTestReconciler(t, map[domain.Label][]domain.ValidatorIndex{"op": {5}})
	b := Batch{
		Begin:          100,
		End:            101,
		ProposerDuties: []domain.ProposerDuty{{Slot: 101, ValidatorIndex: 999}},
	}
	assert.Empty(t, r.reconcileProposers(b))
}

// attestationBits builds the SSZ bitlist for a legacy (pre-Electra)
// attestation whose data bits are set at setIndices, sized for a
// committee of committeeSize members.
func attestationBits(committeeSize int, setIndices ...int) []byte {
	total := committeeSize + 1 // + delimiter bit
	nbytes := (total + 7) / 8
	raw := make([]byte, nbytes)
	for _, i := range setIndices {
		raw[i/8] |= 1 << uint(i%8)
	}
	delimiter := committeeSize
	raw[delimiter/8] |= 1 << uint(delimiter%8)
	return raw
}

// fullyFetchedBlocks returns an empty (no-attestation) block for every
// slot in the inclusion window (begin, end+32], the shape the Scheduler
// normally hands the Reconciler when nothing was skipped.
func fullyFetchedBlocks(begin, end domain.Slot) map[domain.Slot]*domain.Block {
	out := make(map[domain.Slot]*domain.Block)
	for s := begin + 1; s <= end+domain.SlotsPerEpoch; s++ {
		out[s] = &domain.Block{Slot: s}
	}
	return out
}

func TestReconcileAttestations_WindowEdgeIncludedAtExactlyPlus32(t *testing.T) {
	r := newTestReconciler(t, map[domain.Label][]domain.ValidatorIndex{"op": {5, 6}})

	committee := domain.Committee{Slot: 101, Index: 0, Validators: []domain.ValidatorIndex{5, 6}}
	b := Batch{
		Begin:      100,
		End:        101,
		Committees: map[domain.Slot][]domain.Committee{101: {committee}},
		Blocks:     fullyFetchedBlocks(100, 101),
	}

	// Validator 6 (committee position 1) attests for slot 101, included
	// in the block at slot 133 = 101 + 32: the last legal slot.
	b.Blocks[133] = &domain.Block{
		Slot: 133,
		Attestations: []domain.Attestation{
			{DataSlot: 101, DataIndex: 0, AggregationBits: attestationBits(2, 1)},
		},
	}
	// Validator 5's attestation never appears in any fetched block.

	events, skipped, decodeErrs := r.reconcileAttestations(b)
	assert.Empty(t, skipped)
	assert.Zero(t, decodeErrs)

	ev := findEvent(events, domain.EventAttestationMissed)
	require.NotNil(t, ev)
	assert.Equal(t, []domain.ValidatorIndex{5}, ev.AttestationMissed.Validators)
	assert.Equal(t, []domain.Slot{101}, ev.AttestationMissed.Slots)
}

func TestReconcileAttestations_IncludedPastWindowIsReportedMissed(t *testing.T) {
	r := newTestReconciler(t, map[domain.Label][]domain.ValidatorIndex{"op": {5}})

	committee := domain.Committee{Slot: 101, Index: 0, Validators: []domain.ValidatorIndex{5}}
	b := Batch{
		Begin:      100,
		End:        102,
		Committees: map[domain.Slot][]domain.Committee{101: {committee}},
		Blocks:     fullyFetchedBlocks(100, 102),
	}

	// Validator 5 attests for slot 101, but the attestation only shows
	// up in the block at slot 134 = 101 + 33: one slot past the legal
	// window, so it must not count as an inclusion.
	b.Blocks[134] = &domain.Block{
		Slot: 134,
		Attestations: []domain.Attestation{
			{DataSlot: 101, DataIndex: 0, AggregationBits: attestationBits(1, 0)},
		},
	}

	events, _, _ := r.reconcileAttestations(b)
	ev := findEvent(events, domain.EventAttestationMissed)
	require.NotNil(t, ev)
	assert.Equal(t, []domain.ValidatorIndex{5}, ev.AttestationMissed.Validators)
	assert.Equal(t, []domain.Slot{101}, ev.AttestationMissed.Slots)
}

func TestReconcileAttestations_UnionsAcrossMultipleInclusionBlocks(t *testing.T) {
	r := newTestReconciler(t, map[domain.Label][]domain.ValidatorIndex{"op": {5, 6}})

	committee := domain.Committee{Slot: 101, Index: 0, Validators: []domain.ValidatorIndex{5, 6}}
	b := Batch{
		Begin:      100,
		End:        101,
		Committees: map[domain.Slot][]domain.Committee{101: {committee}},
		Blocks:     fullyFetchedBlocks(100, 101),
	}
	b.Blocks[102] = &domain.Block{Slot: 102, Attestations: []domain.Attestation{
		{DataSlot: 101, DataIndex: 0, AggregationBits: attestationBits(2, 0)},
	}}
	b.Blocks[103] = &domain.Block{Slot: 103, Attestations: []domain.Attestation{
		{DataSlot: 101, DataIndex: 0, AggregationBits: attestationBits(2, 1)},
	}}

	events, _, _ := r.reconcileAttestations(b)
	// Validator 5 attested per the slot-102 block, validator 6 per the
	// slot-103 re-aggregation: the union covers both, so nobody is
	// reported missed.
	assert.Nil(t, findEvent(events, domain.EventAttestationMissed))
}

func TestReconcileAttestations_SkippedSlotIsReported(t *testing.T) {
	r := newTestReconciler(t, map[domain.Label][]domain.ValidatorIndex{"op": {5}})
	committee := domain.Committee{Slot: 101, Index: 0, Validators: []domain.ValidatorIndex{5}}
	b := Batch{
		Begin:      100,
		End:        101,
		Committees: map[domain.Slot][]domain.Committee{101: {committee}},
		Blocks:     map[domain.Slot]*domain.Block{}, // every inclusion slot absent: all skipped
	}
	_, skipped, _ := r.reconcileAttestations(b)
	assert.Len(t, skipped, 33) // (Begin, End+32] = (100, 133] has 33 slots
}

func TestReconcileWithdrawals_GroupsByLabelAndSumsTotal(t *testing.T) {
	r := newTestReconciler(t, map[domain.Label][]domain.ValidatorIndex{
		"alpha": {1},
		"beta":  {2},
	})
	b := Batch{
		Begin: 100,
		End:   102,
		Blocks: map[domain.Slot]*domain.Block{
			101: {Slot: 101, Withdrawals: []domain.Withdrawal{
				{Slot: 101, ValidatorIndex: 1, AmountGwei: 1000},
				{Slot: 101, ValidatorIndex: 2, AmountGwei: 500},
				{Slot: 101, ValidatorIndex: 999, AmountGwei: 1}, // unmonitored
			}},
			102: {Slot: 102, Withdrawals: []domain.Withdrawal{
				{Slot: 102, ValidatorIndex: 1, AmountGwei: 2000},
			}},
		},
	}

	events := r.reconcileWithdrawals(b)
	require.Len(t, events, 2)

	alpha := events[0]
	assert.Equal(t, domain.Label("alpha"), alpha.WithdrawalsBatched.Label)
	assert.Equal(t, uint64(3000), alpha.WithdrawalsBatched.TotalGwei)
	require.Len(t, alpha.WithdrawalsBatched.Entries, 2)

	beta := events[1]
	assert.Equal(t, domain.Label("beta"), beta.WithdrawalsBatched.Label)
	assert.Equal(t, uint64(500), beta.WithdrawalsBatched.TotalGwei)
}
