// ============================================================================
// Engine Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: parse the recovery engine's own text config file (spec §6's
// "Configuration keys" table). This format is entirely spec-defined — a
// flat key=value text file with a fixed, small key set — so it is parsed
// with the standard library rather than a third-party format library; see
// DESIGN.md for why no pack dependency fits a one-off domain-specific
// grammar better than bufio+strings. internal/cli.DeploymentConfig, by
// contrast, carries the ambient process/deployment settings and is parsed
// with gopkg.in/yaml.v3 like the teacher's own config layer.
//
// Unknown keys are ignored (spec §6); recognized keys with invalid values
// fail startup with a wrapped error naming the offending key.
//
// ============================================================================

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ChuLiYu/raft-recovery/pkg/types"
)

// Engine holds every recognized configuration key from spec §6, as tagged
// Go values instead of raw strings (spec §9: "the rest of the core never
// sees strings").
type Engine struct {
	InstantRecoveryState       types.OnOff
	InstantRecoverySynchronous types.OnOff

	IndexedLogStructure           types.StructureKind
	IndexedLogFilename             string
	AOFFilename                    string
	IndexerTimeInterval            time.Duration
	StartsLogIndexing              types.StartOrder
	IndexedLogReplicated           types.OnOff
	IndexedLogReplicatedFilename   string
	RebuildIndexedLog              types.OnOff

	CheckpointState           types.OnOff
	CheckpointsOnlyMFU        types.OnOff
	FirstCheckpointStartTime  time.Duration
	CheckpointTimeInterval    time.Duration
	NumberCheckpoints         int
	SelftuneCheckpointTimeInterval types.OnOff
	StopCheckpointAfterBenchmark   types.OnOff

	// PreloadDatabaseAndRestart, when > 0, replays a benchmark-sized
	// preload and restarts the process that many times — mutually
	// exclusive with any benchmark-driven restart/stop-after option
	// (spec §6's rejected-combination rule).
	PreloadDatabaseAndRestart int
	StopAfter                 time.Duration

	// IndexedOffsetPath, ReplicaIndexedOffsetPath, CheckpointOffsetPath
	// name the three fixed-path offset files (spec §4.6). Not a config
	// key in spec §6's table: Parse leaves them as given (Defaults sets
	// them to "indexed-offset", "replica-indexed-offset" and
	// "checkpoint-offset"); they are not derived from IndexedLogFilename.
	IndexedOffsetPath        string
	ReplicaIndexedOffsetPath string
	CheckpointOffsetPath     string
}

// ErrInvalidConfig wraps a recognized key with an invalid value.
type ErrInvalidConfig struct {
	Key   string
	Value string
	Err   error
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("config: invalid value %q for key %q: %v", e.Value, e.Key, e.Err)
}

func (e *ErrInvalidConfig) Unwrap() error { return e.Err }

// ErrContradictoryConfig is returned when preload_database_and_restart is
// combined with a benchmark-driven restart or stop-after option.
var ErrContradictoryConfig = fmt.Errorf("config: preload_database_and_restart is incompatible with benchmark-driven restart/stop-after options")

// Defaults returns the engine configuration with every recognized key at
// its documented default.
func Defaults() Engine {
	return Engine{
		InstantRecoveryState:           types.Off,
		InstantRecoverySynchronous:     types.Off,
		IndexedLogStructure:            types.StructureBTree,
		IndexedLogFilename:             "indexedlog.db",
		AOFFilename:                    "aof.log",
		IndexerTimeInterval:            time.Millisecond,
		StartsLogIndexing:              types.StartBefore,
		IndexedLogReplicated:           types.Off,
		IndexedLogReplicatedFilename:   "",
		RebuildIndexedLog:              types.Off,
		CheckpointState:                types.Off,
		CheckpointsOnlyMFU:             types.Off,
		FirstCheckpointStartTime:       60 * time.Second,
		CheckpointTimeInterval:         60 * time.Second,
		NumberCheckpoints:              0,
		SelftuneCheckpointTimeInterval: types.Off,
		StopCheckpointAfterBenchmark:   types.Off,
		PreloadDatabaseAndRestart:      0,
		StopAfter:                      0,
		IndexedOffsetPath:              "indexed-offset",
		ReplicaIndexedOffsetPath:       "replica-indexed-offset",
		CheckpointOffsetPath:           "checkpoint-offset",
	}
}

// Load reads and parses a config file at path.
func Load(path string) (Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return Engine{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads key=value lines from r. Blank lines and lines starting with
// '#' are ignored. Unknown keys are ignored per spec §6.
func Parse(r io.Reader) (Engine, error) {
	cfg := Defaults()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Engine{}, fmt.Errorf("config: malformed line %q: expected key=value", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := apply(&cfg, key, value); err != nil {
			return Engine{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Engine{}, fmt.Errorf("config: scan: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Engine{}, err
	}
	return cfg, nil
}

func apply(cfg *Engine, key, value string) error {
	invalid := func(err error) error { return &ErrInvalidConfig{Key: key, Value: value, Err: err} }

	switch key {
	case "instant_recovery_state":
		v, err := parseOnOff(value)
		if err != nil {
			return invalid(err)
		}
		cfg.InstantRecoveryState = v

	case "instant_recovery_synchronous":
		v, err := parseOnOff(value)
		if err != nil {
			return invalid(err)
		}
		cfg.InstantRecoverySynchronous = v

	case "indexedlog_structure":
		switch strings.ToUpper(value) {
		case "BTREE":
			cfg.IndexedLogStructure = types.StructureBTree
		case "HASH":
			cfg.IndexedLogStructure = types.StructureHash
		default:
			return invalid(fmt.Errorf("must be BTREE or HASH"))
		}

	case "indexedlog_filename":
		cfg.IndexedLogFilename = value

	case "aof_filename":
		cfg.AOFFilename = value

	case "indexer_time_interval":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return invalid(err)
		}
		cfg.IndexerTimeInterval = time.Duration(v) * time.Microsecond

	case "starts_log_indexing":
		switch strings.ToUpper(value) {
		case "B":
			cfg.StartsLogIndexing = types.StartBefore
		case "A":
			cfg.StartsLogIndexing = types.StartAfter
		default:
			return invalid(fmt.Errorf("must be B or A"))
		}

	case "indexedlog_replicated":
		v, err := parseOnOff(value)
		if err != nil {
			return invalid(err)
		}
		cfg.IndexedLogReplicated = v

	case "indexedlog_replicated_filename":
		cfg.IndexedLogReplicatedFilename = value

	case "rebuild_indexedlog":
		v, err := parseOnOff(value)
		if err != nil {
			return invalid(err)
		}
		cfg.RebuildIndexedLog = v

	case "checkpoint_state":
		v, err := parseOnOff(value)
		if err != nil {
			return invalid(err)
		}
		cfg.CheckpointState = v

	case "checkpoints_only_mfu":
		v, err := parseOnOff(value)
		if err != nil {
			return invalid(err)
		}
		cfg.CheckpointsOnlyMFU = v

	case "first_checkpoint_start_time":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return invalid(err)
		}
		cfg.FirstCheckpointStartTime = time.Duration(v) * time.Second

	case "checkpoint_time_interval":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return invalid(err)
		}
		cfg.CheckpointTimeInterval = time.Duration(v) * time.Second

	case "number_checkpoints":
		v, err := strconv.Atoi(value)
		if err != nil {
			return invalid(err)
		}
		cfg.NumberCheckpoints = v

	case "selftune_checkpoint_time_interval":
		v, err := parseOnOff(value)
		if err != nil {
			return invalid(err)
		}
		cfg.SelftuneCheckpointTimeInterval = v

	case "stop_checkpoint_after_benchmark":
		v, err := parseOnOff(value)
		if err != nil {
			return invalid(err)
		}
		cfg.StopCheckpointAfterBenchmark = v

	case "preload_database_and_restart":
		v, err := strconv.Atoi(value)
		if err != nil {
			return invalid(err)
		}
		cfg.PreloadDatabaseAndRestart = v

	case "stop_after":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return invalid(err)
		}
		cfg.StopAfter = time.Duration(v) * time.Second

	default:
		// unknown keys are ignored (spec §6)
	}
	return nil
}

func parseOnOff(value string) (types.OnOff, error) {
	switch strings.ToUpper(value) {
	case "ON":
		return types.On, nil
	case "OFF":
		return types.Off, nil
	default:
		return types.Off, fmt.Errorf("must be ON or OFF")
	}
}

// Validate rejects the contradictory combination spec §6 names:
// preload_database_and_restart > 0 together with any benchmark-driven
// restart/stop-after option.
func Validate(cfg Engine) error {
	if cfg.PreloadDatabaseAndRestart > 0 && (cfg.StopAfter > 0 || cfg.StopCheckpointAfterBenchmark == types.On) {
		return ErrContradictoryConfig
	}
	return nil
}
