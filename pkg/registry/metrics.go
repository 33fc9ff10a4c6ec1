package registry

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"coral-discovery/pkg/logx"
	"coral-discovery/pkg/model"
	"coral-discovery/pkg/store"
)

const (
	countPrefix   = "count:"
	cleanupPrefix = "cleanup:"

	flushDelay       = 10 * time.Second
	counterRetention = 24 * time.Hour
	snapshotMaxAge   = 10 * time.Minute
	sweepInterval    = time.Hour
)

// hourBucket truncates t to the UTC ISO-8601 hour prefix used as the
// counter bucket key suffix.
func hourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// StatsResult is the rollup served by /stats: per-operation counts over the
// last hour plus the latest cleanup snapshot from each partition.
type StatsResult struct {
	Operations map[string]int64                 `json:"operations"`
	Cleanups   map[string]model.CleanupSnapshot `json:"cleanups"`
}

// MetricsPartition is the singleton "global" partition. Counter increments
// batch in memory for up to flushDelay before they are merged into the
// store; cleanup snapshots overwrite their key immediately.
type MetricsPartition struct {
	kv store.KVStore

	mu             sync.Mutex
	pending        map[string]int64
	flushScheduled bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMetricsPartition constructs the partition and starts its hourly
// retention sweep.
func NewMetricsPartition(kv store.KVStore) *MetricsPartition {
	m := &MetricsPartition{
		kv:      kv,
		pending: make(map[string]int64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.runSweep()
	return m
}

// Track increments the counter for op in the current hour bucket. The write
// is deferred: a flush is scheduled at most once per flushDelay.
func (m *MetricsPartition) Track(op string) {
	if op == "" {
		return
	}
	key := countPrefix + op + ":" + hourBucket(time.Now())

	m.mu.Lock()
	m.pending[key]++
	schedule := !m.flushScheduled
	m.flushScheduled = true
	m.mu.Unlock()

	if schedule {
		time.AfterFunc(flushDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.Flush(ctx); err != nil {
				logx.Warnf("metrics: flush failed: %v", err)
			}
		})
	}
}

// Flush merges the pending counters into the store as a single batch. On
// write failure the counts are restored so the next flush retries them.
func (m *MetricsPartition) Flush(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]int64)
	m.flushScheduled = false
	m.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	values := make(map[string]string, len(pending))
	for key, delta := range pending {
		total := delta
		if v, ok, err := m.kv.GetValue(ctx, key); err == nil && ok {
			if prev, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				total += prev
			}
		}
		values[key] = strconv.FormatInt(total, 10)
	}
	if err := m.kv.PutValues(ctx, values); err != nil {
		m.mu.Lock()
		for key, delta := range pending {
			m.pending[key] += delta
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// Report stores the cleanup snapshot for the originating partition.
// Overwrites are idempotent.
func (m *MetricsPartition) Report(ctx context.Context, counts model.CleanupCounts, originID string) error {
	snap := model.CleanupSnapshot{
		ExpiredColonies: counts.ExpiredColonies,
		ExpiredAgents:   counts.ExpiredAgents,
		UpdatedAt:       time.Now().UnixMilli(),
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.kv.PutValues(ctx, map[string]string{cleanupPrefix + originID: string(b)})
}

// Stats sums counter buckets from the last hour, including counts still
// pending in memory, and returns the stored cleanup snapshots.
func (m *MetricsPartition) Stats(ctx context.Context) (StatsResult, error) {
	res := StatsResult{
		Operations: make(map[string]int64),
		Cleanups:   make(map[string]model.CleanupSnapshot),
	}
	cutoff := time.Now().UTC().Add(-time.Hour).Truncate(time.Hour)

	counters, err := m.kv.ListPrefix(ctx, countPrefix)
	if err != nil {
		return StatsResult{}, err
	}
	for key, v := range counters {
		op, bucket, ok := splitCounterKey(key)
		if !ok || !bucketAtOrAfter(bucket, cutoff) {
			continue
		}
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			res.Operations[op] += n
		}
	}

	m.mu.Lock()
	for key, n := range m.pending {
		if op, bucket, ok := splitCounterKey(key); ok && bucketAtOrAfter(bucket, cutoff) {
			res.Operations[op] += n
		}
	}
	m.mu.Unlock()

	snapshots, err := m.kv.ListPrefix(ctx, cleanupPrefix)
	if err != nil {
		return StatsResult{}, err
	}
	for key, v := range snapshots {
		var snap model.CleanupSnapshot
		if jerr := json.Unmarshal([]byte(v), &snap); jerr == nil {
			res.Cleanups[strings.TrimPrefix(key, cleanupPrefix)] = snap
		}
	}
	return res, nil
}

// Stop drains pending counters and closes the store.
func (m *MetricsPartition) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Flush(ctx); err != nil {
			logx.Warnf("metrics: final flush failed: %v", err)
		}
		if err := m.kv.Close(); err != nil {
			logx.Warnf("metrics: close store: %v", err)
		}
	})
}

// runSweep flushes and prunes aged keys once per hour: counter buckets
// older than 24h, cleanup snapshots older than 10 minutes.
func (m *MetricsPartition) runSweep() {
	defer close(m.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *MetricsPartition) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.Flush(ctx); err != nil {
		logx.Warnf("metrics: sweep flush failed: %v", err)
	}

	var stale []string
	counterCutoff := time.Now().UTC().Add(-counterRetention)
	if counters, err := m.kv.ListPrefix(ctx, countPrefix); err == nil {
		for key := range counters {
			if _, bucket, ok := splitCounterKey(key); ok && !bucketAtOrAfter(bucket, counterCutoff) {
				stale = append(stale, key)
			}
		}
	}
	snapCutoff := time.Now().Add(-snapshotMaxAge).UnixMilli()
	if snapshots, err := m.kv.ListPrefix(ctx, cleanupPrefix); err == nil {
		for key, v := range snapshots {
			var snap model.CleanupSnapshot
			if jerr := json.Unmarshal([]byte(v), &snap); jerr != nil || snap.UpdatedAt < snapCutoff {
				stale = append(stale, key)
			}
		}
	}
	if len(stale) > 0 {
		if err := m.kv.DeleteKeys(ctx, stale); err != nil {
			logx.Warnf("metrics: sweep delete failed: %v", err)
		}
	}
}

// splitCounterKey parses "count:<op>:<iso-hour>". The hour suffix is the
// field after the last ':' (the bucket format contains no ':').
func splitCounterKey(key string) (op, bucket string, ok bool) {
	rest, found := strings.CutPrefix(key, countPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func bucketAtOrAfter(bucket string, cutoff time.Time) bool {
	t, err := time.Parse("2006-01-02T15", bucket)
	if err != nil {
		return false
	}
	return !t.Before(cutoff.Truncate(time.Hour))
}
