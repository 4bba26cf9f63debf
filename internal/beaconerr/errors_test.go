package beaconerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissedSlot_Error(t *testing.T) {
	err := &MissedSlot{Slot: 42}
	assert.Contains(t, err.Error(), "42")
}

func TestTransientFetchError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransientFetchError{Op: "block", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "block")
}

func TestDecodeError_Unwrap(t *testing.T) {
	cause := errors.New("bad length")
	err := &DecodeError{Context: "committee_bits", Cause: cause}

	assert.ErrorIs(t, err, cause)
}

func TestBatchError_UnwrapAndAsSlotSkipped(t *testing.T) {
	skipped := &SlotSkipped{Slot: 7, Reason: "no committees"}
	batchErr := &BatchError{BatchBegin: 0, BatchEnd: 32, Cause: skipped}

	var target *SlotSkipped
	require.True(t, errors.As(batchErr, &target))
	assert.Equal(t, uint64(7), target.Slot)
}
