package deferred

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics aggregates runtime statistics across any number of Deferred
// instances. Attach a shared aggregate via [WithMetrics]; instances produced
// by [Deferred.Reset] inherit it.
//
// Thread Safety:
//   - All Metrics methods are thread-safe and can be called from any goroutine.
//   - Counters use atomics; LatencyMetrics uses sync.RWMutex.
//   - Snapshot() returns a copy, safe for concurrent reads.
//
// The zero value is ready for use; [NewMetrics] additionally enables the
// settlement rate counter.
//
// Example:
//
//	m := deferred.NewMetrics()
//	d, _ := deferred.New(deferred.WithMetrics(m))
//	// ... settle some work ...
//	stats := m.Snapshot()
//	fmt.Printf("fulfilled=%d rejected=%d\n", stats.Fulfilled, stats.Rejected)
type Metrics struct {
	created             atomic.Uint64
	fulfilled           atomic.Uint64
	rejected            atomic.Uint64
	resets              atomic.Uint64
	eventsDispatched    atomic.Uint64
	slotInvocations     atomic.Uint64
	unhandledRejections atomic.Uint64

	// Latency tracks pending-to-settled durations.
	Latency LatencyMetrics

	rate *RateCounter
}

// MetricsSnapshot is a point-in-time copy of the Metrics counters.
type MetricsSnapshot struct {
	// Created counts constructed instances, including those from Reset.
	Created uint64
	// Fulfilled counts successful Resolve settlements.
	Fulfilled uint64
	// Rejected counts successful Reject settlements.
	Rejected uint64
	// Resets counts Reset calls.
	Resets uint64
	// EventsDispatched counts settlement events dispatched (four kinds).
	EventsDispatched uint64
	// SlotInvocations counts handler-slot callbacks invoked.
	SlotInvocations uint64
	// UnhandledRejections counts rejections reported with no consumer.
	UnhandledRejections uint64
}

// NewMetrics returns an empty aggregate with the settlement rate counter
// enabled (10 second window, 100 millisecond buckets).
func NewMetrics() *Metrics {
	return &Metrics{
		rate: NewRateCounter(10*time.Second, 100*time.Millisecond),
	}
}

// Snapshot returns a copy of the current counter values.
// Safe on a nil receiver (returns zeroes).
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Created:             m.created.Load(),
		Fulfilled:           m.fulfilled.Load(),
		Rejected:            m.rejected.Load(),
		Resets:              m.resets.Load(),
		EventsDispatched:    m.eventsDispatched.Load(),
		SlotInvocations:     m.slotInvocations.Load(),
		UnhandledRejections: m.unhandledRejections.Load(),
	}
}

// SettleRate returns the current settlements per second over the rolling
// window, or 0 when the rate counter is not enabled (see [NewMetrics]).
func (m *Metrics) SettleRate() float64 {
	if m == nil {
		return 0
	}
	return m.rate.Rate()
}

// The instrumentation points below are nil-safe so call sites inside the
// package need no configuration guard.

func (m *Metrics) addCreated() {
	if m != nil {
		m.created.Add(1)
	}
}

func (m *Metrics) addFulfilled() {
	if m != nil {
		m.fulfilled.Add(1)
		m.rate.Increment()
	}
}

func (m *Metrics) addRejected() {
	if m != nil {
		m.rejected.Add(1)
		m.rate.Increment()
	}
}

func (m *Metrics) addReset() {
	if m != nil {
		m.resets.Add(1)
	}
}

func (m *Metrics) addEventDispatched() {
	if m != nil {
		m.eventsDispatched.Add(1)
	}
}

func (m *Metrics) addSlotInvoked() {
	if m != nil {
		m.slotInvocations.Add(1)
	}
}

func (m *Metrics) addUnhandledRejection() {
	if m != nil {
		m.unhandledRejections.Add(1)
	}
}

func (m *Metrics) recordSettleLatency(d time.Duration) {
	if m != nil {
		m.Latency.Record(d)
	}
}

// LatencyMetrics tracks the distribution of pending-to-settled durations
// with percentiles, over a rolling buffer of samples.
type LatencyMetrics struct {
	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	// Computed percentiles (cached after Sample() call)
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration

	// Statistics
	Mean time.Duration
	Sum  time.Duration
	mu   sync.RWMutex
}

// sampleSize is the maximum number of latency samples to retain.
// A rolling buffer of 1000 samples is kept to compute percentiles.
const sampleSize = 1000

// Record records a latency sample.
// This is called internally after each settlement.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// If the buffer is full, subtract the old sample being replaced
	if l.sampleCount >= sampleSize {
		old := l.samples[l.sampleIdx]
		l.Sum -= old
	}

	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample computes percentiles from collected samples, updating the cached
// percentile fields. Returns the number of samples used for computation.
//
// Performance note: sorting is O(n log n); with sampleSize=1000 this takes
// on the order of 100-200 microseconds. For monitoring, call this no more
// than once per second.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}

	// Clone and sort samples for percentile computation
	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])

	for i := 0; i < count; i++ {
		for j := i + 1; j < count; j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	l.P50 = sorted[percentileIndex(count, 50)]
	l.P90 = sorted[percentileIndex(count, 90)]
	l.P95 = sorted[percentileIndex(count, 95)]
	l.P99 = sorted[percentileIndex(count, 99)]
	l.Max = sorted[count-1]
	l.Mean = l.Sum / time.Duration(count)

	return count
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// RateCounter tracks settlements per second with a rolling window.
//
// Implementation Details:
//   - Rolling window length: configurable (default: 10 seconds)
//   - Bucket granularity: configurable (default: 100 milliseconds)
//
// At startup the rate is 0 until the rolling window fills. After warmup it
// reflects the average settlement rate over the entire window; with 100ms
// buckets the rate is granular to 0.1 per second.
//
// Thread Safety: all methods are thread-safe. Nil receivers are no-ops.
type RateCounter struct {
	lastRotation atomic.Value // Stores time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	totalCount   atomic.Int64
	mu           sync.Mutex
}

// NewRateCounter creates a new rate counter.
// windowSize is the time window for rate calculation (e.g., 10*time.Second).
// bucketSize is the granularity of the rolling window (e.g., 100*time.Millisecond).
func NewRateCounter(windowSize, bucketSize time.Duration) *RateCounter {
	bucketCount := int(windowSize / bucketSize)
	if bucketCount < 1 {
		bucketCount = 1
	}
	counter := &RateCounter{
		buckets:    make([]int64, bucketCount),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	counter.lastRotation.Store(time.Now())
	return counter
}

// Increment records a settlement.
// Thread-safe and O(1).
func (c *RateCounter) Increment() {
	if c == nil {
		return
	}
	c.totalCount.Add(1)
	c.rotate()
	c.mu.Lock()
	c.buckets[len(c.buckets)-1]++
	c.mu.Unlock()
}

// rotate advances the bucket counter if time has passed.
func (c *RateCounter) rotate() {
	now := time.Now()
	lastRotation := c.lastRotation.Load().(time.Time)
	elapsed := now.Sub(lastRotation)
	bucketsToAdvance := int(elapsed / c.bucketSize)

	if bucketsToAdvance >= len(c.buckets) {
		// Full window reset
		c.mu.Lock()
		for i := range c.buckets {
			c.buckets[i] = 0
		}
		c.mu.Unlock()
		c.lastRotation.Store(now)
		return
	}

	if bucketsToAdvance > 0 {
		c.mu.Lock()
		// Shift buckets left, filling with zeros
		for i := 0; i < len(c.buckets)-bucketsToAdvance; i++ {
			c.buckets[i] = c.buckets[i+bucketsToAdvance]
		}
		for i := len(c.buckets) - bucketsToAdvance; i < len(c.buckets); i++ {
			c.buckets[i] = 0
		}
		c.mu.Unlock()
		c.lastRotation.Store(lastRotation.Add(time.Duration(bucketsToAdvance) * c.bucketSize))
	}
}

// Rate returns the current settlements per second.
func (c *RateCounter) Rate() float64 {
	if c == nil {
		return 0
	}
	c.rotate()

	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	for _, count := range c.buckets {
		sum += count
	}

	if sum == 0 {
		return 0
	}

	// rate = total count / window size in seconds
	seconds := c.windowSize.Seconds()
	return float64(sum) / seconds
}
