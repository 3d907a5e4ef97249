package vshell

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a Host.
type Metrics struct {
	// Command counters
	SubmitOps   atomic.Uint64 // Total commands submitted
	CompleteOps atomic.Uint64 // Total commands that completed (success or failure)
	TimeoutOps  atomic.Uint64 // Total commands that hit their deadline
	RestartOps  atomic.Uint64 // Total subprocess restarts

	// Byte counters for the bulk channel
	BulkWriteBytes atomic.Uint64 // Total bytes written to the bulk channel
	BulkReadBytes  atomic.Uint64 // Total bytes read from the bulk channel
	BulkWriteOps   atomic.Uint64
	BulkReadOps    atomic.Uint64

	// Error counters
	CommandErrors atomic.Uint64 // Commands that completed with a non-zero status
	StderrDropped atomic.Uint64 // Stderr chunks dropped because the FIFO was empty (§9)

	// Queue statistics
	QueueDepthTotal atomic.Uint64 // Cumulative queue depth samples
	QueueDepthCount atomic.Uint64 // Number of queue depth measurements
	MaxQueueDepth   atomic.Uint32 // Maximum observed queue depth

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative command latency in nanoseconds
	OpCount        atomic.Uint64 // Total completed commands (for average latency calculation)

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of commands with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Host lifecycle
	StartTime atomic.Int64 // Host start timestamp (UnixNano)
	StopTime  atomic.Int64 // Host stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records a command submission.
func (m *Metrics) RecordSubmit() {
	m.SubmitOps.Add(1)
}

// RecordComplete records a completed command and its end-to-end latency.
func (m *Metrics) RecordComplete(latencyNs uint64, success bool) {
	m.CompleteOps.Add(1)
	if !success {
		m.CommandErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordTimeout records a command that hit its deadline.
func (m *Metrics) RecordTimeout() {
	m.TimeoutOps.Add(1)
}

// RecordRestart records a subprocess restart.
func (m *Metrics) RecordRestart() {
	m.RestartOps.Add(1)
}

// RecordBulkWrite records a bulk-channel write.
func (m *Metrics) RecordBulkWrite(bytes uint64) {
	m.BulkWriteOps.Add(1)
	m.BulkWriteBytes.Add(bytes)
}

// RecordBulkRead records a bulk-channel read.
func (m *Metrics) RecordBulkRead(bytes uint64) {
	m.BulkReadOps.Add(1)
	m.BulkReadBytes.Add(bytes)
}

// RecordStderrDropped records a stderr chunk dropped because the FIFO head
// had no in-flight command to attribute it to (§9).
func (m *Metrics) RecordStderrDropped() {
	m.StderrDropped.Add(1)
}

// RecordQueueDepth records the current FIFO depth for statistics.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordLatency records command latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the host as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	// Command counters
	SubmitOps   uint64
	CompleteOps uint64
	TimeoutOps  uint64
	RestartOps  uint64

	// Bulk channel counters
	BulkWriteBytes uint64
	BulkReadBytes  uint64
	BulkWriteOps   uint64
	BulkReadOps    uint64

	// Error counts
	CommandErrors uint64
	StderrDropped uint64

	// Queue statistics
	AvgQueueDepth float64
	MaxQueueDepth uint32

	// Performance
	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64 // 50th percentile (median)
	LatencyP99Ns  uint64 // 99th percentile
	LatencyP999Ns uint64 // 99.9th percentile

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	CompletionRate float64 // Commands per second
	ErrorRate      float64 // Percentage of commands that completed with an error
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SubmitOps:      m.SubmitOps.Load(),
		CompleteOps:    m.CompleteOps.Load(),
		TimeoutOps:     m.TimeoutOps.Load(),
		RestartOps:     m.RestartOps.Load(),
		BulkWriteBytes: m.BulkWriteBytes.Load(),
		BulkReadBytes:  m.BulkReadBytes.Load(),
		BulkWriteOps:   m.BulkWriteOps.Load(),
		BulkReadOps:    m.BulkReadOps.Load(),
		CommandErrors:  m.CommandErrors.Load(),
		StderrDropped:  m.StderrDropped.Load(),
		MaxQueueDepth:  m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.CompletionRate = float64(snap.CompleteOps) / uptimeSeconds
	}

	if snap.CompleteOps > 0 {
		snap.ErrorRate = float64(snap.CommandErrors) / float64(snap.CompleteOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.SubmitOps.Store(0)
	m.CompleteOps.Store(0)
	m.TimeoutOps.Store(0)
	m.RestartOps.Store(0)
	m.BulkWriteBytes.Store(0)
	m.BulkReadBytes.Store(0)
	m.BulkWriteOps.Store(0)
	m.BulkReadOps.Store(0)
	m.CommandErrors.Store(0)
	m.StderrDropped.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection over command-shaped events.
// Implementations must be thread-safe: methods are called from the Tracker,
// the Engine's lifecycle goroutines, and the bulk channel concurrently.
type Observer interface {
	// ObserveSubmit is called when a command is accepted onto the FIFO.
	ObserveSubmit()

	// ObserveComplete is called when a command finishes, successfully or not.
	ObserveComplete(latencyNs uint64, success bool)

	// ObserveTimeout is called when a command's deadline elapses.
	ObserveTimeout()

	// ObserveRestart is called when the subprocess is restarted.
	ObserveRestart()

	// ObserveBulkWrite is called for each bulk-channel write.
	ObserveBulkWrite(bytes uint64)

	// ObserveBulkRead is called for each bulk-channel read.
	ObserveBulkRead(bytes uint64)

	// ObserveStderrDropped is called when a stderr chunk is dropped because
	// the FIFO had no command to attribute it to.
	ObserveStderrDropped()

	// ObserveQueueDepth is called on each submit with the FIFO depth just
	// after the command was added.
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit()               {}
func (NoOpObserver) ObserveComplete(uint64, bool) {}
func (NoOpObserver) ObserveTimeout()              {}
func (NoOpObserver) ObserveRestart()              {}
func (NoOpObserver) ObserveBulkWrite(uint64)      {}
func (NoOpObserver) ObserveBulkRead(uint64)       {}
func (NoOpObserver) ObserveStderrDropped()         {}
func (NoOpObserver) ObserveQueueDepth(uint32)     {}

// MetricsObserver implements Observer using the built-in Metrics type.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit() {
	o.metrics.RecordSubmit()
}

func (o *MetricsObserver) ObserveComplete(latencyNs uint64, success bool) {
	o.metrics.RecordComplete(latencyNs, success)
}

func (o *MetricsObserver) ObserveTimeout() {
	o.metrics.RecordTimeout()
}

func (o *MetricsObserver) ObserveRestart() {
	o.metrics.RecordRestart()
}

func (o *MetricsObserver) ObserveBulkWrite(bytes uint64) {
	o.metrics.RecordBulkWrite(bytes)
}

func (o *MetricsObserver) ObserveBulkRead(bytes uint64) {
	o.metrics.RecordBulkRead(bytes)
}

func (o *MetricsObserver) ObserveStderrDropped() {
	o.metrics.RecordStderrDropped()
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
