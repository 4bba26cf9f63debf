// Package beacon implements the Beacon Client: idempotent, cached,
// single-flight-deduplicated reads from a beacon node's HTTP API. It
// wraps github.com/attestantio/go-eth2-client, layering the Cache and
// a hard concurrency ceiling on top of it.
package beacon

import (
	"context"
	"fmt"
	"time"

	"github.com/attestantio/go-eth2-client/api"
	apiv1 "github.com/attestantio/go-eth2-client/api/v1"
	eth2http "github.com/attestantio/go-eth2-client/http"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/valwatch/duties-indexer/internal/beaconerr"
	"github.com/valwatch/duties-indexer/internal/cache"
	"github.com/valwatch/duties-indexer/internal/domain"
)

// Config parameterizes the Client.
type Config struct {
	Endpoint              string
	RequestTimeout        time.Duration
	MaxConcurrentRequests int
}

// Client implements ports.BeaconChainAdapter over go-eth2-client, a
// Cache, and a bounded request semaphore.
type Client struct {
	log zerolog.Logger
	svc *eth2http.Service

	cache *cache.Cache
	sem   chan struct{}

	blockFlight     singleflight.Group
	committeeFlight singleflight.Group
}

// New dials the beacon node and constructs a Client.
func New(ctx context.Context, cfg Config, c *cache.Cache, log zerolog.Logger) (*Client, error) {
	// go-eth2-client logs through zerolog; pin its logger to warn so it
	// doesn't drown out this service's own structured logs.
	svc, err := eth2http.New(ctx,
		eth2http.WithAddress(cfg.Endpoint),
		eth2http.WithTimeout(cfg.RequestTimeout),
		eth2http.WithLogLevel(zerolog.WarnLevel),
	)
	if err != nil {
		return nil, &beaconerr.ConfigurationError{Reason: fmt.Sprintf("unreachable beacon node %s: %v", cfg.Endpoint, err)}
	}

	maxConcurrent := cfg.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 30
	}

	return &Client{
		log:   log.With().Str("component", "beacon_client").Logger(),
		svc:   svc.(*eth2http.Service),
		cache: c,
		sem:   make(chan struct{}, maxConcurrent),
	}, nil
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

// HeadSlot implements ports.BeaconChainAdapter.
func (c *Client) HeadSlot(ctx context.Context) (domain.Slot, error) {
	if err := c.acquire(ctx); err != nil {
		return 0, err
	}
	defer c.release()

	resp, err := c.svc.BeaconBlockHeader(ctx, &api.BeaconBlockHeaderOpts{Block: "head"})
	if err != nil {
		return 0, &beaconerr.TransientFetchError{Op: "head_slot", Cause: err}
	}
	return domain.Slot(resp.Data.Header.Message.Slot), nil
}

// Block implements ports.BeaconChainAdapter. It consults the Cache
// first, then single-flights the fetch keyed by slot so concurrent
// callers for the same slot share one outbound request.
func (c *Client) Block(ctx context.Context, slot domain.Slot) (*domain.Block, error) {
	if block, ok := c.cache.GetBlock(slot); ok {
		return block, nil
	}

	key := fmt.Sprintf("%d", uint64(slot))
	v, err, _ := c.blockFlight.Do(key, func() (interface{}, error) {
		// Re-check the cache: another goroutine may have just populated
		// it while we were entering the single-flight section.
		if block, ok := c.cache.GetBlock(slot); ok {
			return block, nil
		}

		if err := c.acquire(ctx); err != nil {
			return nil, err
		}
		defer c.release()

		resp, err := c.svc.SignedBeaconBlock(ctx, &api.SignedBeaconBlockOpts{Block: fmt.Sprintf("%d", uint64(slot))})
		if err != nil {
			if apiErr, ok := err.(*api.Error); ok && apiErr.StatusCode == 404 {
				c.cache.SetBlockTombstone(slot)
				return nil, &beaconerr.MissedSlot{Slot: uint64(slot)}
			}
			return nil, &beaconerr.TransientFetchError{Op: "block", Cause: err}
		}
		if resp == nil || resp.Data == nil {
			c.cache.SetBlockTombstone(slot)
			return nil, &beaconerr.MissedSlot{Slot: uint64(slot)}
		}

		block, convErr := convertBlock(resp.Data)
		if convErr != nil {
			return nil, &beaconerr.DecodeError{Context: "block", Cause: convErr}
		}
		c.cache.SetBlock(slot, block)
		return block, nil
	})
	if err != nil {
		var missed *beaconerr.MissedSlot
		if errors.As(err, &missed) {
			return nil, nil
		}
		return nil, err
	}
	return v.(*domain.Block), nil
}

// Committees implements ports.BeaconChainAdapter. Committee assignments
// are published a full epoch at a time, so a miss for any slot in an
// epoch fetches and caches every slot in that epoch, single-flighted by
// epoch to avoid 32 redundant fetches for one batch.
func (c *Client) Committees(ctx context.Context, slot domain.Slot) ([]domain.Committee, error) {
	if committees, ok := c.cache.GetCommittees(slot); ok {
		return committees, nil
	}

	epoch := slot.Epoch()
	key := fmt.Sprintf("%d", uint64(epoch))
	_, err, _ := c.committeeFlight.Do(key, func() (interface{}, error) {
		if ok := c.cache.HasCommittees(slot); ok {
			return nil, nil
		}

		if err := c.acquire(ctx); err != nil {
			return nil, err
		}
		defer c.release()

		e := phase0.Epoch(uint64(epoch))
		resp, err := c.svc.BeaconCommittees(ctx, &api.BeaconCommitteesOpts{
			State: "head",
			Epoch: &e,
		})
		if err != nil {
			if apiErr, ok := err.(*api.Error); ok && apiErr.StatusCode == 404 {
				return nil, &beaconerr.SlotSkipped{Slot: uint64(slot), Reason: "committees not found for epoch"}
			}
			return nil, &beaconerr.TransientFetchError{Op: "committees", Cause: err}
		}

		bySlot := make(map[domain.Slot][]domain.Committee)
		for _, comm := range resp.Data {
			s := domain.Slot(comm.Slot)
			validators := make([]domain.ValidatorIndex, len(comm.Validators))
			for i, v := range comm.Validators {
				validators[i] = domain.ValidatorIndex(v)
			}
			bySlot[s] = append(bySlot[s], domain.Committee{
				Slot:       s,
				Index:      domain.CommitteeIndex(comm.Index),
				Validators: validators,
			})
		}
		for s, list := range bySlot {
			c.cache.SetCommittees(s, list)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	committees, ok := c.cache.GetCommittees(slot)
	if !ok {
		return nil, &beaconerr.SlotSkipped{Slot: uint64(slot), Reason: "no committees published for this slot"}
	}
	return committees, nil
}

// ProposerDuties implements ports.BeaconChainAdapter, returning every
// proposer duty in the epoch (unfiltered; the Reconciler filters to
// monitored validators).
func (c *Client) ProposerDuties(ctx context.Context, epoch domain.Epoch) ([]domain.ProposerDuty, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	resp, err := c.svc.ProposerDuties(ctx, &api.ProposerDutiesOpts{Epoch: phase0.Epoch(uint64(epoch))})
	if err != nil {
		if apiErr, ok := err.(*api.Error); ok && apiErr.StatusCode == 404 {
			return nil, &beaconerr.SlotSkipped{Slot: uint64(epoch.FirstSlot()), Reason: "proposer duties not found for epoch"}
		}
		return nil, &beaconerr.TransientFetchError{Op: "proposer_duties", Cause: err}
	}

	duties := make([]domain.ProposerDuty, 0, len(resp.Data))
	for _, d := range resp.Data {
		duties = append(duties, domain.ProposerDuty{
			Slot:           domain.Slot(d.Slot),
			ValidatorIndex: domain.ValidatorIndex(d.ValidatorIndex),
		})
	}
	return duties, nil
}

// ActiveValidatorIndices implements ports.BeaconChainAdapter.
func (c *Client) ActiveValidatorIndices(ctx context.Context) ([]domain.ValidatorIndex, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	resp, err := c.svc.Validators(ctx, &api.ValidatorsOpts{
		State: "head",
		ValidatorStates: []apiv1.ValidatorState{
			apiv1.ValidatorStateActiveOngoing,
			apiv1.ValidatorStateActiveExiting,
			apiv1.ValidatorStateActiveSlashed,
		},
	})
	if err != nil {
		return nil, &beaconerr.TransientFetchError{Op: "active_validators", Cause: err}
	}

	indices := make([]domain.ValidatorIndex, 0, len(resp.Data))
	for _, v := range resp.Data {
		indices = append(indices, domain.ValidatorIndex(v.Index))
	}
	return indices, nil
}
