package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valwatch/duties-indexer/internal/domain"
)

func TestParseValidators_GroupsByLabel(t *testing.T) {
	environ := []string{
		"VALIDATORS_ALPHA=1,2,3",
		"VALIDATORS_BETA=4, 5",
		"UNRELATED=ignored",
	}
	got, err := parseValidators(environ)
	require.NoError(t, err)

	assert.ElementsMatch(t, []domain.ValidatorIndex{1, 2, 3}, got["alpha"])
	assert.ElementsMatch(t, []domain.ValidatorIndex{4, 5}, got["beta"])
	assert.Len(t, got, 2)
}

func TestParseValidators_EmptyListYieldsNoLabel(t *testing.T) {
	got, err := parseValidators([]string{"VALIDATORS_EMPTY="})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseValidators_InvalidIndexIsAnError(t *testing.T) {
	_, err := parseValidators([]string{"VALIDATORS_ALPHA=1,notanumber"})
	require.Error(t, err)
}

func TestParseIndexList_TrimsAndSkipsBlanks(t *testing.T) {
	got, err := parseIndexList(" 1, 2 ,,3")
	require.NoError(t, err)
	assert.Equal(t, []domain.ValidatorIndex{1, 2, 3}, got)
}

func TestEnvIntOrDefault_RejectsNonPositive(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "0")
	_, err := envIntOrDefault("TEST_ENV_INT", 10)
	require.Error(t, err)
}

func TestEnvIntOrDefault_UsesDefaultWhenUnset(t *testing.T) {
	v, err := envIntOrDefault("TEST_ENV_INT_UNSET", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_ENV_BOOL", "true")
	assert.True(t, envBool("TEST_ENV_BOOL"))

	t.Setenv("TEST_ENV_BOOL", "0")
	assert.False(t, envBool("TEST_ENV_BOOL"))
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultBeaconURL, cfg.BeaconNodeURL)
	assert.Equal(t, defaultMaxConcurrentRequests, cfg.MaxConcurrentRequests)
	assert.Equal(t, defaultBatchSize, cfg.BatchSize)
}
