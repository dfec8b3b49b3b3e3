package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.indexedOffset, "indexedOffset gauge should be initialized")
	assert.NotNil(t, collector.checkpointOffset, "checkpointOffset gauge should be initialized")
	assert.NotNil(t, collector.restoredKeys, "restoredKeys gauge should be initialized")
	assert.NotNil(t, collector.onDemandLoads, "onDemandLoads counter should be initialized")
	assert.NotNil(t, collector.incrementalLoads, "incrementalLoads counter should be initialized")
	assert.NotNil(t, collector.inconsistentLoads, "inconsistentLoads counter should be initialized")
	assert.NotNil(t, collector.checkpointRounds, "checkpointRounds counter should be initialized")
	assert.NotNil(t, collector.indexerDrainDuration, "indexerDrainDuration histogram should be initialized")
	assert.NotNil(t, collector.checkpointRoundDuration, "checkpointRoundDuration histogram should be initialized")
}

func TestSetIndexedOffsetAndCheckpointOffset(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetIndexedOffset(1024)
		collector.SetCheckpointOffset(512)
	})
}

func TestSetRestoredKeys(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	for _, n := range []int{0, 1, 100, 10000} {
		assert.NotPanics(t, func() { collector.SetRestoredKeys(n) })
	}
}

func TestRecordOnDemandLoad(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			collector.RecordOnDemandLoad()
		}
	})
}

func TestRecordIncrementalLoad(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 10; i++ {
			collector.RecordIncrementalLoad()
		}
	})
}

func TestRecordInconsistentLoad(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordInconsistentLoad()
	})
}

func TestRecordCheckpointRound(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	durations := []float64{0.001, 0.5, 60.0, 120.0}
	for _, d := range durations {
		assert.NotPanics(t, func() { collector.RecordCheckpointRound(d) })
	}
}

func TestRecordIndexerDrain(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordIndexerDrain(0.002)
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordOnDemandLoad()
			collector.RecordIncrementalLoad()
			collector.SetIndexedOffset(uint64(i))
			collector.SetRestoredKeys(i)
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	// A second collector registering the same metric names against the
	// same registry should panic — a process should have only one.
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	assert.Panics(t, func() {
		NewCollector()
	}, "creating a second collector should panic due to duplicate registration")
}

func TestRecoveryLifecycleSequence(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetIndexedOffset(0)
		collector.RecordIncrementalLoad()
		collector.SetRestoredKeys(1)
		collector.RecordOnDemandLoad()
		collector.SetRestoredKeys(2)
		collector.RecordCheckpointRound(1.5)
		collector.SetCheckpointOffset(100)
	}, "a typical recovery lifecycle should not panic")
}

func TestZeroAndBoundaryValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetIndexedOffset(0)
		collector.SetCheckpointOffset(0)
		collector.SetRestoredKeys(0)
		collector.RecordCheckpointRound(0.0)
		collector.RecordIndexerDrain(0.0)
	})
}
