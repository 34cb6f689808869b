package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucketStore keeps emitted time buckets in a fixed-size ring buffer.
//
// Requests are accumulated lock-free between emissions; CreateBucket swaps
// the accumulators out and appends a bucket. When the buffer is full the
// oldest bucket is overwritten.
type TimeBucketStore struct {
	mu      sync.RWMutex
	buckets []*TimeBucket
	head    int
	count   int

	lastBucketTime time.Time

	intervalRequests atomic.Int64
	intervalFailures atomic.Int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		lastBucketTime: time.Now(),
	}
}

// RecordRequest adds one request to the current interval.
func (s *TimeBucketStore) RecordRequest(success bool) {
	s.intervalRequests.Add(1)
	if !success {
		s.intervalFailures.Add(1)
	}
}

// CreateBucket closes the current interval and stores it as a bucket.
func (s *TimeBucketStore) CreateBucket(totals Snapshot, latencies LatencyPercentiles) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	requests := s.intervalRequests.Swap(0)
	failures := s.intervalFailures.Swap(0)

	seconds := now.Sub(s.lastBucketTime).Seconds()
	if seconds <= 0 {
		seconds = 1
	}

	bucket := &TimeBucket{
		Timestamp:        now,
		TotalRequests:    totals.TotalRequests,
		TotalSuccesses:   totals.SuccessRequests,
		TotalFailures:    totals.FailedRequests,
		TotalBytes:       totals.TotalBytes,
		IntervalRequests: requests,
		IntervalRPS:      float64(requests) / seconds,
		LatencyP50:       latencies.P50,
		LatencyP95:       latencies.P95,
		LatencyP99:       latencies.P99,
		LatencyMax:       latencies.Max,
		ActiveVUs:        totals.ActiveVUs,
		Phase:            totals.CurrentPhase,
	}
	if requests > 0 {
		bucket.IntervalErrorRate = float64(failures) / float64(requests)
	}

	size := len(s.buckets)
	s.buckets[s.head] = bucket
	s.head = (s.head + 1) % size
	if s.count < size {
		s.count++
	}
	s.lastBucketTime = now

	return bucket
}

// GetBuckets returns all buckets in chronological order.
func (s *TimeBucketStore) GetBuckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	size := len(s.buckets)
	start := (s.head - s.count + size) % size
	result := make([]*TimeBucket, s.count)
	for i := 0; i < s.count; i++ {
		result[i] = s.buckets[(start+i)%size]
	}
	return result
}

// Count returns the number of stored buckets.
func (s *TimeBucketStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// SteadyStateRPS averages interval RPS over buckets emitted during a hold
// stage. The second return value is the number of buckets considered.
func (s *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var sum float64
	n := 0
	for _, b := range s.GetBuckets() {
		if b.Phase != PhaseSteady {
			continue
		}
		sum += b.IntervalRPS
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
