// Package mevlookup implements fire-and-forget MEV-reward enrichment:
// on every BlockProposed event, it asks a configured MEV relay for the
// delivered bid trace of that slot. It is invoked as an unsupervised
// goroutine; its failures are logged and never propagate into the
// core, grounded on migalabs/goteth's pkg/mev_client package which
// talks to the same relay APIs through
// github.com/attestantio/go-relay-client.
package mevlookup

import (
	"context"
	"time"

	relayclient "github.com/attestantio/go-relay-client"
	v1 "github.com/attestantio/go-relay-client/api/v1"
	relayhttp "github.com/attestantio/go-relay-client/http"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/rs/zerolog"

	"github.com/valwatch/duties-indexer/internal/domain"
)

const relayTimeout = 10 * time.Second

// Lookup implements ports.RewardLookup against one MEV relay.
type Lookup struct {
	log    zerolog.Logger
	client relayclient.Service
}

// New dials the relay at address. A dial failure here is not fatal to
// startup: the lookup is best-effort enrichment, so New logs a warning
// and returns a Lookup whose LookupReward calls do nothing and return
// nil, rather than blocking the whole service on a relay being down.
func New(ctx context.Context, address string, log zerolog.Logger) *Lookup {
	sublog := log.With().Str("component", "mev_lookup").Logger()
	client, err := relayhttp.New(ctx,
		relayhttp.WithAddress(address),
		relayhttp.WithLogLevel(zerolog.WarnLevel),
		relayhttp.WithTimeout(relayTimeout),
	)
	if err != nil {
		sublog.Warn().Err(err).Str("relay", address).Msg("could not dial MEV relay; reward lookups will be skipped")
		return &Lookup{log: sublog, client: nil}
	}
	return &Lookup{log: sublog, client: client}
}

// LookupReward implements ports.RewardLookup.
func (l *Lookup) LookupReward(ctx context.Context, slot domain.Slot, execBlockNumber uint64) error {
	if l.client == nil {
		return nil
	}
	provider, ok := l.client.(relayclient.DeliveredBidTraceProvider)
	if !ok {
		return nil
	}

	bid, err := provider.DeliveredBidTrace(ctx, slotToPhase0(slot))
	if err != nil {
		return err
	}
	if bid != nil {
		l.log.Info().
			Uint64("slot", uint64(slot)).
			Uint64("exec_block_number", execBlockNumber).
			Str("value_wei", bidValue(bid)).
			Msg("MEV reward found for proposed block")
	}
	return nil
}

// Spawn launches LookupReward as an unsupervised goroutine: the core
// completes its batch without awaiting this call, and any error is
// logged only.
func Spawn(ctx context.Context, l *Lookup, slot domain.Slot, execBlockNumber uint64) {
	go func() {
		if err := l.LookupReward(ctx, slot, execBlockNumber); err != nil {
			l.log.Debug().Err(err).Uint64("slot", uint64(slot)).Msg("MEV reward lookup failed")
		}
	}()
}

func slotToPhase0(s domain.Slot) phase0.Slot {
	return phase0.Slot(uint64(s))
}

func bidValue(bid *v1.BidTrace) string {
	if bid == nil || bid.Value == nil {
		return "0"
	}
	return bid.Value.String()
}
