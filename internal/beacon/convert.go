package beacon

import (
	"fmt"

	"github.com/attestantio/go-eth2-client/spec"
	"github.com/attestantio/go-eth2-client/spec/capella"
	"github.com/attestantio/go-eth2-client/spec/electra"
	"github.com/attestantio/go-eth2-client/spec/phase0"

	"github.com/valwatch/duties-indexer/internal/domain"
)

// convertBlock translates a versioned beacon block from go-eth2-client's
// wire types into domain.Block, handling every fork from Phase0 through
// Electra. Pre-Bellatrix blocks carry no execution payload and no
// withdrawals; pre-Capella blocks carry no withdrawals.
func convertBlock(v *spec.VersionedSignedBeaconBlock) (*domain.Block, error) {
	switch v.Version {
	case spec.DataVersionPhase0:
		b := v.Phase0.Message
		return &domain.Block{
			Slot:          domain.Slot(b.Slot),
			ProposerIndex: domain.ValidatorIndex(b.ProposerIndex),
			Attestations:  convertPhase0Attestations(b.Body.Attestations),
		}, nil

	case spec.DataVersionAltair:
		b := v.Altair.Message
		return &domain.Block{
			Slot:          domain.Slot(b.Slot),
			ProposerIndex: domain.ValidatorIndex(b.ProposerIndex),
			Attestations:  convertPhase0Attestations(b.Body.Attestations),
		}, nil

	case spec.DataVersionBellatrix:
		b := v.Bellatrix.Message
		blockNumber := b.Body.ExecutionPayload.BlockNumber
		return &domain.Block{
			Slot:            domain.Slot(b.Slot),
			ProposerIndex:   domain.ValidatorIndex(b.ProposerIndex),
			ExecBlockNumber: &blockNumber,
			Attestations:    convertPhase0Attestations(b.Body.Attestations),
		}, nil

	case spec.DataVersionCapella:
		b := v.Capella.Message
		blockNumber := b.Body.ExecutionPayload.BlockNumber
		return &domain.Block{
			Slot:            domain.Slot(b.Slot),
			ProposerIndex:   domain.ValidatorIndex(b.ProposerIndex),
			ExecBlockNumber: &blockNumber,
			Attestations:    convertPhase0Attestations(b.Body.Attestations),
			Withdrawals:     convertCapellaWithdrawals(b.Slot, blockNumber, b.Body.ExecutionPayload.Withdrawals),
		}, nil

	case spec.DataVersionDeneb:
		b := v.Deneb.Message
		blockNumber := b.Body.ExecutionPayload.BlockNumber
		return &domain.Block{
			Slot:            domain.Slot(b.Slot),
			ProposerIndex:   domain.ValidatorIndex(b.ProposerIndex),
			ExecBlockNumber: &blockNumber,
			Attestations:    convertPhase0Attestations(b.Body.Attestations),
			Withdrawals:     convertCapellaWithdrawals(b.Slot, blockNumber, b.Body.ExecutionPayload.Withdrawals),
		}, nil

	case spec.DataVersionElectra:
		b := v.Electra.Message
		blockNumber := b.Body.ExecutionPayload.BlockNumber
		return &domain.Block{
			Slot:            domain.Slot(b.Slot),
			ProposerIndex:   domain.ValidatorIndex(b.ProposerIndex),
			ExecBlockNumber: &blockNumber,
			Attestations:    convertElectraAttestations(b.Body.Attestations),
			Withdrawals:     convertCapellaWithdrawals(b.Slot, blockNumber, b.Body.ExecutionPayload.Withdrawals),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported block version %v", v.Version)
	}
}

func convertPhase0Attestations(atts []*phase0.Attestation) []domain.Attestation {
	out := make([]domain.Attestation, 0, len(atts))
	for _, a := range atts {
		out = append(out, domain.Attestation{
			DataSlot:        domain.Slot(a.Data.Slot),
			DataIndex:       domain.CommitteeIndex(a.Data.Index),
			AggregationBits: []byte(a.AggregationBits),
		})
	}
	return out
}

func convertElectraAttestations(atts []*electra.Attestation) []domain.Attestation {
	out := make([]domain.Attestation, 0, len(atts))
	for _, a := range atts {
		out = append(out, domain.Attestation{
			DataSlot:        domain.Slot(a.Data.Slot),
			AggregationBits: []byte(a.AggregationBits),
			CommitteeBits:   []byte(a.CommitteeBits[:]),
		})
	}
	return out
}

func convertCapellaWithdrawals(slot phase0.Slot, blockNumber uint64, withdrawals []*capella.Withdrawal) []domain.Withdrawal {
	out := make([]domain.Withdrawal, 0, len(withdrawals))
	for _, w := range withdrawals {
		out = append(out, domain.Withdrawal{
			Slot:           domain.Slot(slot),
			BlockNumber:    blockNumber,
			ValidatorIndex: domain.ValidatorIndex(w.ValidatorIndex),
			Address:        w.Address.String(),
			AmountGwei:     uint64(w.Amount),
		})
	}
	return out
}
