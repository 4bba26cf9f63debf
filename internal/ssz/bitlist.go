// Package ssz decodes the SSZ bitlist/bitvector participation fields
// carried by beacon-chain attestations into validator-index sets. It is
// pure and side-effect free: every function here is a deterministic
// transform from bytes to domain values, with no I/O and no shared
// state, built on github.com/prysmaticlabs/go-bitfield's Bitlist and
// Bitvector64 types, which already implement the SSZ little-endian,
// delimiter-terminated bitlist encoding this package's callers rely on.
package ssz

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/valwatch/duties-indexer/internal/beaconerr"
	"github.com/valwatch/duties-indexer/internal/domain"
)

// DecodeHex strips an optional "0x" prefix and hex-decodes s.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid hex string %q", s)
	}
	return b, nil
}

// DecodeBitlist returns the committee members whose data bit is set,
// per the legacy single-committee attestation format. Bits at or
// beyond min(delimiter, len(committee)) are ignored.
func DecodeBitlist(raw []byte, committee []domain.ValidatorIndex) (map[domain.ValidatorIndex]struct{}, error) {
	if len(raw) == 0 {
		return map[domain.ValidatorIndex]struct{}{}, nil
	}
	bl := bitfield.Bitlist(raw)
	out := make(map[domain.ValidatorIndex]struct{})
	limit := len(committee)
	for _, i := range bl.BitIndices() {
		if i >= limit {
			continue
		}
		out[committee[i]] = struct{}{}
	}
	return out, nil
}

// DecodeCommitteeBits implements decode_committee_bits: it returns the
// ascending list of committee indices selected by the SSZ bitvector,
// discarding any index >= totalCommittees.
func DecodeCommitteeBits(raw []byte, totalCommittees int) ([]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	bv, err := toBitvector64(raw)
	if err != nil {
		return nil, &beaconerr.DecodeError{Context: "committee_bits", Cause: err}
	}
	var out []int
	limit := uint64(totalCommittees)
	for i := uint64(0); i < limit && i < 64; i++ {
		if bv.BitAt(i) {
			out = append(out, int(i))
		}
	}
	return out, nil
}

func toBitvector64(raw []byte) (bitfield.Bitvector64, error) {
	if len(raw) != 8 {
		return nil, fmt.Errorf("committee_bits must be 8 bytes (64-bit bitvector), got %d", len(raw))
	}
	return bitfield.Bitvector64(raw), nil
}

// ElectraAggregate decodes a post-Electra multi-committee attestation:
// committeeBits selects the participating committees in ascending
// order, and aggregationBits concatenates their participant bitlists,
// terminated by a single delimiter bit. It returns one InclusionRecord
// per selected committee, preserving per-committee attribution.
//
// dataSlot and inclusionSlot are attached to every returned record.
// committeesAtSlot gives the ordered committee list for dataSlot, used
// both to resolve committee membership and to bound committeeBits.
func ElectraAggregate(
	committeeBitsRaw, aggregationBitsRaw []byte,
	committeesAtSlot []domain.Committee,
	dataSlot, inclusionSlot domain.Slot,
) ([]domain.InclusionRecord, error) {
	selected, err := DecodeCommitteeBits(committeeBitsRaw, len(committeesAtSlot))
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, nil
	}

	byIndex := make(map[int]domain.Committee, len(committeesAtSlot))
	for _, c := range committeesAtSlot {
		byIndex[int(c.Index)] = c
	}

	wantedBits := uint64(0)
	for _, ci := range selected {
		c, ok := byIndex[ci]
		if !ok {
			return nil, &beaconerr.DecodeError{
				Context: "electra aggregate",
				Cause:   fmt.Errorf("committee %d selected by committee_bits but absent from slot committee list", ci),
			}
		}
		wantedBits += uint64(len(c.Validators))
	}

	agg := bitfield.Bitlist(aggregationBitsRaw)
	dataLen := agg.Len()
	if dataLen != wantedBits {
		return nil, &beaconerr.DecodeError{
			Context: "electra aggregate",
			Cause: fmt.Errorf(
				"aggregation_bits declares %d data bits but selected committees total %d members (excess or deficit)",
				dataLen, wantedBits,
			),
		}
	}

	records := make([]domain.InclusionRecord, 0, len(selected))
	bitBase := uint64(0)
	for _, ci := range selected {
		c := byIndex[ci]
		attesting := make(map[domain.ValidatorIndex]struct{})
		for localPos, valIdx := range c.Validators {
			if agg.BitAt(bitBase + uint64(localPos)) {
				attesting[valIdx] = struct{}{}
			}
		}
		bitBase += uint64(len(c.Validators))
		records = append(records, domain.InclusionRecord{
			Slot:           dataSlot,
			InclusionSlot:  inclusionSlot,
			CommitteeIndex: domain.CommitteeIndex(ci),
			Attesting:      attesting,
		})
	}
	return records, nil
}

// LegacyAggregate decodes a pre-Electra single-committee attestation
// into one InclusionRecord.
func LegacyAggregate(
	aggregationBitsRaw []byte,
	committee domain.Committee,
	dataSlot, inclusionSlot domain.Slot,
) (domain.InclusionRecord, error) {
	attesting, err := DecodeBitlist(aggregationBitsRaw, committee.Validators)
	if err != nil {
		return domain.InclusionRecord{}, err
	}
	return domain.InclusionRecord{
		Slot:           dataSlot,
		InclusionSlot:  inclusionSlot,
		CommitteeIndex: committee.Index,
		Attesting:      attesting,
	}, nil
}
