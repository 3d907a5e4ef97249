package vshell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	require.Zero(t, snap.CompleteOps)

	m.RecordSubmit()
	m.RecordSubmit()
	m.RecordComplete(1_000_000, true) // 1ms, success
	m.RecordComplete(500_000, false)  // 0.5ms, error

	snap = m.Snapshot()

	require.EqualValues(t, 2, snap.SubmitOps)
	require.EqualValues(t, 2, snap.CompleteOps)
	require.EqualValues(t, 1, snap.CommandErrors)

	expectedErrorRate := float64(1) / float64(2) * 100.0
	require.InDelta(t, expectedErrorRate, snap.ErrorRate, 0.1)
}

func TestMetricsBulkChannel(t *testing.T) {
	m := NewMetrics()

	m.RecordBulkWrite(1024)
	m.RecordBulkWrite(2048)
	m.RecordBulkRead(512)

	snap := m.Snapshot()
	require.EqualValues(t, 2, snap.BulkWriteOps)
	require.EqualValues(t, 3072, snap.BulkWriteBytes)
	require.EqualValues(t, 1, snap.BulkReadOps)
	require.EqualValues(t, 512, snap.BulkReadBytes)
}

func TestMetricsTimeoutAndRestart(t *testing.T) {
	m := NewMetrics()

	m.RecordTimeout()
	m.RecordTimeout()
	m.RecordRestart()

	snap := m.Snapshot()
	require.EqualValues(t, 2, snap.TimeoutOps)
	require.EqualValues(t, 1, snap.RestartOps)
}

func TestMetricsStderrDropped(t *testing.T) {
	m := NewMetrics()

	m.RecordStderrDropped()
	m.RecordStderrDropped()
	m.RecordStderrDropped()

	snap := m.Snapshot()
	require.EqualValues(t, 3, snap.StderrDropped)
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(15)

	snap := m.Snapshot()

	require.EqualValues(t, 20, snap.MaxQueueDepth)

	expectedAvg := float64(10+20+15) / 3.0
	require.InDelta(t, expectedAvg, snap.AvgQueueDepth, 0.1)
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordComplete(1_000_000, true) // 1ms
	m.RecordComplete(2_000_000, true) // 2ms

	snap := m.Snapshot()

	require.EqualValues(t, 1_500_000, snap.AvgLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	require.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	require.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordComplete(1_000_000, true)
	m.RecordComplete(2_000_000, true)
	m.RecordQueueDepth(10)

	snap := m.Snapshot()
	require.NotZero(t, snap.CompleteOps)

	m.Reset()

	snap = m.Snapshot()
	require.Zero(t, snap.CompleteOps)
	require.Zero(t, snap.MaxQueueDepth)
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveSubmit()
	observer.ObserveComplete(1_000_000, true)
	observer.ObserveTimeout()
	observer.ObserveRestart()
	observer.ObserveBulkWrite(1024)
	observer.ObserveBulkRead(1024)
	observer.ObserveStderrDropped()
	observer.ObserveQueueDepth(10)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveSubmit()
	metricsObserver.ObserveComplete(2_000_000, true)
	metricsObserver.ObserveBulkWrite(2048)

	snap := m.Snapshot()
	require.EqualValues(t, 1, snap.SubmitOps)
	require.EqualValues(t, 1, snap.CompleteOps)
	require.EqualValues(t, 2048, snap.BulkWriteBytes)
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordComplete(1_000_000, true)
	m.RecordComplete(2_000_000, true)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	require.InDelta(t, 2.0, snap.CompletionRate, 0.1)
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordComplete(500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordComplete(5_000_000, true) // 5ms
	}
	m.RecordComplete(50_000_000, true) // 50ms, the single slowest sample

	snap := m.Snapshot()

	require.EqualValues(t, 100, snap.CompleteOps)

	require.GreaterOrEqual(t, snap.LatencyP50Ns, uint64(100_000))
	require.LessOrEqual(t, snap.LatencyP50Ns, uint64(1_000_000))

	require.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
	require.LessOrEqual(t, snap.LatencyP99Ns, uint64(100_000_000))

	var totalInBuckets uint64
	for _, count := range snap.LatencyHistogram {
		totalInBuckets += count
	}
	require.NotZero(t, totalInBuckets)
}
