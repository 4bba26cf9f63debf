package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotEpoch(t *testing.T) {
	cases := []struct {
		slot  Slot
		epoch Epoch
	}{
		{0, 0},
		{1, 0},
		{31, 0},
		{32, 1},
		{63, 1},
		{64, 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.epoch, c.slot.Epoch())
	}
}

func TestEpochFirstLastSlot(t *testing.T) {
	assert.Equal(t, Slot(0), Epoch(0).FirstSlot())
	assert.Equal(t, Slot(31), Epoch(0).LastSlot())
	assert.Equal(t, Slot(32), Epoch(1).FirstSlot())
	assert.Equal(t, Slot(63), Epoch(1).LastSlot())
}

func TestInclusionWindowEnd(t *testing.T) {
	assert.Equal(t, Slot(42), Slot(10).InclusionWindowEnd())
}

func TestNewMonitoredSet_Empty(t *testing.T) {
	_, err := NewMonitoredSet(nil)
	require.Error(t, err)

	_, err = NewMonitoredSet(map[Label][]ValidatorIndex{"a": {}})
	require.Error(t, err)
}

func TestNewMonitoredSet_DuplicateAcrossLabels(t *testing.T) {
	_, err := NewMonitoredSet(map[Label][]ValidatorIndex{
		"a": {1, 2},
		"b": {2, 3},
	})
	require.Error(t, err)
}

func TestNewMonitoredSet_ContainsAndLabelOf(t *testing.T) {
	ms, err := NewMonitoredSet(map[Label][]ValidatorIndex{
		"a": {1, 2},
		"b": {3},
	})
	require.NoError(t, err)

	assert.True(t, ms.Contains(1))
	assert.True(t, ms.Contains(3))
	assert.False(t, ms.Contains(99))

	label, ok := ms.LabelOf(2)
	require.True(t, ok)
	assert.Equal(t, Label("a"), label)

	_, ok = ms.LabelOf(99)
	assert.False(t, ok)

	assert.Equal(t, 3, ms.Len())
	assert.ElementsMatch(t, []ValidatorIndex{1, 2, 3}, ms.All())
}

func TestNewMonitoredSet_SameLabelRepeatedIsNotAnError(t *testing.T) {
	ms, err := NewMonitoredSet(map[Label][]ValidatorIndex{
		"a": {1, 1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ms.Len())
}
