// Package reconciler implements the per-batch join across proposer
// duties, committee assignments, attestation inclusions and
// withdrawals. It is pure: every method here is a deterministic
// function of its inputs, accumulating events rather than performing
// I/O, so that a batch-level failure elsewhere never leaves it in an
// inconsistent state.
package reconciler

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/valwatch/duties-indexer/internal/domain"
	"github.com/valwatch/duties-indexer/internal/ssz"
)

// Batch is the full set of data the Reconciler needs for one
// (S_begin, S_end] window, including the 32-slot attestation inclusion
// lookahead and the withdrawal range.
type Batch struct {
	Begin domain.Slot
	End   domain.Slot

	// ProposerDuties covers (Begin, End], filtered to monitored
	// validators by the caller or not; Reconcile filters again.
	ProposerDuties []domain.ProposerDuty

	// Committees covers every slot in (Begin, End].
	Committees map[domain.Slot][]domain.Committee

	// Blocks covers every slot in (Begin, End+32]; a nil value at a
	// present key marks a missed slot (tombstone), an absent key marks a
	// slot whose block fetch failed in this batch; it is reported in
	// Result.SkippedSlots and contributes no attestations.
	Blocks map[domain.Slot]*domain.Block
}

// Result is everything one call to Reconcile produced.
type Result struct {
	Events             []domain.Event
	DecodeErrors       int
	SkippedSlots       []domain.Slot
}

// Reconciler joins a Batch against a monitored validator set.
type Reconciler struct {
	log       zerolog.Logger
	monitored *domain.MonitoredSet
}

// New constructs a Reconciler.
func New(monitored *domain.MonitoredSet, log zerolog.Logger) *Reconciler {
	return &Reconciler{monitored: monitored, log: log.With().Str("component", "reconciler").Logger()}
}

// Reconcile runs the proposer, attestation and withdrawal joins over
// one batch and returns the events to emit, in order: proposer events
// in ascending slot, then one AttestationMissedBatch per label with
// misses, then one WithdrawalsBatched per label with withdrawals (both
// in ascending label order).
func (r *Reconciler) Reconcile(b Batch) Result {
	var res Result

	res.Events = append(res.Events, r.reconcileProposers(b)...)

	attestationEvents, skipped, decodeErrs := r.reconcileAttestations(b)
	res.Events = append(res.Events, attestationEvents...)
	res.SkippedSlots = skipped
	res.DecodeErrors = decodeErrs

	res.Events = append(res.Events, r.reconcileWithdrawals(b)...)

	return res
}

// reconcileProposers joins proposer duties against fetched blocks,
// emitting a BlockProposed or BlockMissed event per monitored duty.
func (r *Reconciler) reconcileProposers(b Batch) []domain.Event {
	duties := make([]domain.ProposerDuty, 0, len(b.ProposerDuties))
	for _, d := range b.ProposerDuties {
		if d.Slot > b.Begin && d.Slot <= b.End && r.monitored.Contains(d.ValidatorIndex) {
			duties = append(duties, d)
		}
	}
	sort.Slice(duties, func(i, j int) bool { return duties[i].Slot < duties[j].Slot })

	events := make([]domain.Event, 0, len(duties))
	for _, d := range duties {
		label, _ := r.monitored.LabelOf(d.ValidatorIndex)
		block, fetched := b.Blocks[d.Slot]

		if fetched && block != nil && block.ProposerIndex == d.ValidatorIndex {
			events = append(events, domain.Event{
				Kind: domain.EventBlockProposed,
				BlockProposed: &domain.BlockProposed{
					Validator:       d.ValidatorIndex,
					Label:           label,
					Slot:            d.Slot,
					ExecBlockNumber: block.ExecBlockNumber,
				},
			})
			continue
		}

		events = append(events, domain.Event{
			Kind: domain.EventBlockMissed,
			BlockMissed: &domain.BlockMissed{
				Validator: d.ValidatorIndex,
				Label:     label,
				Slot:      d.Slot,
			},
		})
	}
	return events
}

// reconcileAttestations decodes every inclusion block's attestations,
// unions attesting sets across re-aggregations of the same
// (slot, committee_index), and emits one batched AttestationMissedBatch
// event per label.
func (r *Reconciler) reconcileAttestations(b Batch) (events []domain.Event, skipped []domain.Slot, decodeErrs int) {
	// (slot, committee_index) -> union of attesting validators, across
	// every inclusion block that carries a matching data slot.
	attestedByCommittee := make(map[domain.Slot]map[domain.CommitteeIndex]map[domain.ValidatorIndex]struct{})

	for inclusionSlot := b.Begin + 1; inclusionSlot <= b.End+domain.SlotsPerEpoch; inclusionSlot++ {
		block, fetched := b.Blocks[inclusionSlot]
		if !fetched {
			skipped = append(skipped, inclusionSlot)
			continue
		}
		if block == nil {
			continue // missed slot tombstone: contributes no attestations
		}
		for _, att := range block.Attestations {
			if att.DataSlot <= b.Begin || att.DataSlot > b.End {
				continue
			}
			if inclusionSlot > att.DataSlot.InclusionWindowEnd() {
				continue
			}
			committeesAtSlot, ok := b.Committees[att.DataSlot]
			if !ok {
				continue
			}

			var records []domain.InclusionRecord
			var err error
			if att.IsElectra() {
				records, err = ssz.ElectraAggregate(att.CommitteeBits, att.AggregationBits, committeesAtSlot, att.DataSlot, inclusionSlot)
			} else {
				committee, found := findCommittee(committeesAtSlot, att.DataIndex)
				if !found {
					continue
				}
				var rec domain.InclusionRecord
				rec, err = ssz.LegacyAggregate(att.AggregationBits, committee, att.DataSlot, inclusionSlot)
				if err == nil {
					records = []domain.InclusionRecord{rec}
				}
			}
			if err != nil {
				decodeErrs++
				r.log.Warn().Err(err).Uint64("data_slot", uint64(att.DataSlot)).Uint64("inclusion_slot", uint64(inclusionSlot)).
					Msg("discarding malformed attestation")
				continue
			}

			for _, rec := range records {
				perSlot, ok := attestedByCommittee[rec.Slot]
				if !ok {
					perSlot = make(map[domain.CommitteeIndex]map[domain.ValidatorIndex]struct{})
					attestedByCommittee[rec.Slot] = perSlot
				}
				existing, ok := perSlot[rec.CommitteeIndex]
				if !ok {
					existing = make(map[domain.ValidatorIndex]struct{})
					perSlot[rec.CommitteeIndex] = existing
				}
				for v := range rec.Attesting {
					existing[v] = struct{}{}
				}
			}
		}
	}

	missedByLabel := make(map[domain.Label]map[domain.ValidatorIndex]map[domain.Slot]struct{})

	for slot := b.Begin + 1; slot <= b.End; slot++ {
		committees, ok := b.Committees[slot]
		if !ok {
			continue
		}
		attestedInSlot := attestedByCommittee[slot]
		for _, committee := range committees {
			attestedInCommittee := attestedInSlot[committee.Index]
			for _, v := range committee.Validators {
				if !r.monitored.Contains(v) {
					continue
				}
				_, included := attestedInCommittee[v]
				if included {
					continue
				}
				label, _ := r.monitored.LabelOf(v)
				byValidator, ok := missedByLabel[label]
				if !ok {
					byValidator = make(map[domain.ValidatorIndex]map[domain.Slot]struct{})
					missedByLabel[label] = byValidator
				}
				slots, ok := byValidator[v]
				if !ok {
					slots = make(map[domain.Slot]struct{})
					byValidator[v] = slots
				}
				slots[slot] = struct{}{}
			}
		}
	}

	labels := make([]domain.Label, 0, len(missedByLabel))
	for l := range missedByLabel {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	for _, label := range labels {
		byValidator := missedByLabel[label]
		validators := make([]domain.ValidatorIndex, 0, len(byValidator))
		for v := range byValidator {
			validators = append(validators, v)
		}
		sort.Slice(validators, func(i, j int) bool { return validators[i] < validators[j] })

		var allSlots []domain.Slot
		for _, v := range validators {
			slots := make([]domain.Slot, 0, len(byValidator[v]))
			for s := range byValidator[v] {
				slots = append(slots, s)
			}
			sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
			allSlots = append(allSlots, slots...)
		}

		events = append(events, domain.Event{
			Kind: domain.EventAttestationMissed,
			AttestationMissed: &domain.AttestationMissedBatch{
				Label:      label,
				Validators: validators,
				Slots:      allSlots,
			},
		})
	}
	return events, skipped, decodeErrs
}

// reconcileWithdrawals groups withdrawal entries found in fetched
// blocks by monitored label and sums each label's total.
func (r *Reconciler) reconcileWithdrawals(b Batch) []domain.Event {
	byLabel := make(map[domain.Label][]domain.WithdrawalEntry)
	for slot := b.Begin + 1; slot <= b.End; slot++ {
		block, ok := b.Blocks[slot]
		if !ok || block == nil {
			continue
		}
		for _, w := range block.Withdrawals {
			if !r.monitored.Contains(w.ValidatorIndex) {
				continue
			}
			label, _ := r.monitored.LabelOf(w.ValidatorIndex)
			byLabel[label] = append(byLabel[label], domain.WithdrawalEntry{
				Validator:  w.ValidatorIndex,
				AmountGwei: w.AmountGwei,
				Slot:       w.Slot,
			})
		}
	}

	labels := make([]domain.Label, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	events := make([]domain.Event, 0, len(labels))
	for _, label := range labels {
		entries := byLabel[label]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Slot < entries[j].Slot })
		var total uint64
		for _, e := range entries {
			total += e.AmountGwei
		}
		events = append(events, domain.Event{
			Kind: domain.EventWithdrawalsBatched,
			WithdrawalsBatched: &domain.WithdrawalsBatched{
				Label:     label,
				Entries:   entries,
				TotalGwei: total,
			},
		})
	}
	return events
}

func findCommittee(committees []domain.Committee, index domain.CommitteeIndex) (domain.Committee, bool) {
	for _, c := range committees {
		if c.Index == index {
			return c, true
		}
	}
	return domain.Committee{}, false
}
