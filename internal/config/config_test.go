package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

func TestParseRecognizedKeys(t *testing.T) {
	input := `
# comment line
instant_recovery_state=ON
instant_recovery_synchronous=OFF
indexedlog_structure=HASH
indexedlog_filename=/tmp/index.db
indexer_time_interval=500
starts_log_indexing=A
checkpoint_state=ON
checkpoints_only_mfu=ON
checkpoint_time_interval=120
number_checkpoints=5
`
	cfg, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, types.On, cfg.InstantRecoveryState)
	assert.Equal(t, types.Off, cfg.InstantRecoverySynchronous)
	assert.Equal(t, types.StructureHash, cfg.IndexedLogStructure)
	assert.Equal(t, "/tmp/index.db", cfg.IndexedLogFilename)
	assert.Equal(t, 500*time.Microsecond, cfg.IndexerTimeInterval)
	assert.Equal(t, types.StartAfter, cfg.StartsLogIndexing)
	assert.Equal(t, types.On, cfg.CheckpointState)
	assert.Equal(t, types.On, cfg.CheckpointsOnlyMFU)
	assert.Equal(t, 120*time.Second, cfg.CheckpointTimeInterval)
	assert.Equal(t, 5, cfg.NumberCheckpoints)
}

func TestParseIgnoresUnknownKeys(t *testing.T) {
	cfg, err := Parse(strings.NewReader("totally_unknown_key=whatever\n"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().InstantRecoveryState, cfg.InstantRecoveryState)
}

func TestParseInvalidEnumFailsStartup(t *testing.T) {
	_, err := Parse(strings.NewReader("indexedlog_structure=TRIE\n"))
	require.Error(t, err)
	var invalidErr *ErrInvalidConfig
	assert.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, "indexedlog_structure", invalidErr.Key)
}

func TestParseMalformedLineFails(t *testing.T) {
	_, err := Parse(strings.NewReader("not_a_key_value_pair\n"))
	assert.Error(t, err)
}

func TestValidateRejectsContradictoryPreloadAndStopAfter(t *testing.T) {
	cfg := Defaults()
	cfg.PreloadDatabaseAndRestart = 3
	cfg.StopAfter = 10 * time.Second

	err := Validate(cfg)
	assert.ErrorIs(t, err, ErrContradictoryConfig)
}

func TestValidateRejectsContradictoryPreloadAndBenchmarkStop(t *testing.T) {
	cfg := Defaults()
	cfg.PreloadDatabaseAndRestart = 1
	cfg.StopCheckpointAfterBenchmark = types.On

	err := Validate(cfg)
	assert.ErrorIs(t, err, ErrContradictoryConfig)
}

func TestValidateAllowsPreloadAloneOrBenchmarkAlone(t *testing.T) {
	cfg := Defaults()
	cfg.PreloadDatabaseAndRestart = 1
	assert.NoError(t, Validate(cfg))

	cfg2 := Defaults()
	cfg2.StopAfter = 5 * time.Second
	assert.NoError(t, Validate(cfg2))
}
