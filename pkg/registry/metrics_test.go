package registry

import (
	"context"
	"strconv"
	"testing"
	"time"

	"coral-discovery/pkg/model"
	"coral-discovery/pkg/store"
)

func newTestMetrics(t *testing.T) (*MetricsPartition, *store.MemoryStore) {
	t.Helper()
	kv := store.NewMemoryStore()
	m := NewMetricsPartition(kv)
	t.Cleanup(m.Stop)
	return m, kv
}

func TestTrackPendingVisibleInStats(t *testing.T) {
	m, _ := newTestMetrics(t)
	ctx := context.Background()

	m.Track("RegisterColony")
	m.Track("RegisterColony")
	m.Track("LookupColony")

	// Counts batch in memory for up to 10s; Stats must still see them.
	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Operations["RegisterColony"] != 2 {
		t.Errorf("RegisterColony = %d, want 2", stats.Operations["RegisterColony"])
	}
	if stats.Operations["LookupColony"] != 1 {
		t.Errorf("LookupColony = %d, want 1", stats.Operations["LookupColony"])
	}
}

func TestFlushMergesIntoStore(t *testing.T) {
	m, kv := newTestMetrics(t)
	ctx := context.Background()

	key := countPrefix + "RegisterColony:" + hourBucket(time.Now())
	if err := kv.PutValues(ctx, map[string]string{key: "5"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m.Track("RegisterColony")
	m.Track("RegisterColony")
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	v, ok, err := kv.GetValue(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get after flush: %v ok=%v", err, ok)
	}
	if n, _ := strconv.ParseInt(v, 10, 64); n != 7 {
		t.Errorf("persisted count = %s, want 7", v)
	}

	// Flushed counts must not double-count via pending.
	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Operations["RegisterColony"] != 7 {
		t.Errorf("stats count = %d, want 7", stats.Operations["RegisterColony"])
	}
}

func TestStatsIgnoresOldBuckets(t *testing.T) {
	m, kv := newTestMetrics(t)
	ctx := context.Background()

	old := countPrefix + "RegisterColony:" + hourBucket(time.Now().Add(-3*time.Hour))
	if err := kv.PutValues(ctx, map[string]string{old: "99"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Operations["RegisterColony"] != 0 {
		t.Errorf("stale bucket leaked into stats: %d", stats.Operations["RegisterColony"])
	}
}

func TestReportStoresSnapshot(t *testing.T) {
	m, _ := newTestMetrics(t)
	ctx := context.Background()

	counts := model.CleanupCounts{ExpiredColonies: 3, ExpiredAgents: 1}
	if err := m.Report(ctx, counts, "abc123"); err != nil {
		t.Fatalf("report: %v", err)
	}
	// Overwrite is idempotent.
	if err := m.Report(ctx, counts, "abc123"); err != nil {
		t.Fatalf("second report: %v", err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	snap, ok := stats.Cleanups["abc123"]
	if !ok {
		t.Fatal("snapshot missing from stats")
	}
	if snap.ExpiredColonies != 3 || snap.ExpiredAgents != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.UpdatedAt == 0 {
		t.Error("snapshot updatedAt not set")
	}
}

func TestSweepPrunesAgedKeys(t *testing.T) {
	m, kv := newTestMetrics(t)
	ctx := context.Background()

	oldCounter := countPrefix + "LookupColony:" + hourBucket(time.Now().Add(-30*time.Hour))
	freshCounter := countPrefix + "LookupColony:" + hourBucket(time.Now())
	if err := kv.PutValues(ctx, map[string]string{oldCounter: "4", freshCounter: "2"}); err != nil {
		t.Fatalf("seed counters: %v", err)
	}
	if err := m.Report(ctx, model.CleanupCounts{ExpiredColonies: 1}, "fresh"); err != nil {
		t.Fatalf("report: %v", err)
	}
	stale := `{"expiredColonies":1,"expiredAgents":0,"updatedAt":` +
		strconv.FormatInt(time.Now().Add(-time.Hour).UnixMilli(), 10) + `}`
	if err := kv.PutValues(ctx, map[string]string{cleanupPrefix + "stale": stale}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	m.sweepOnce()

	if _, ok, _ := kv.GetValue(ctx, oldCounter); ok {
		t.Error("counter older than 24h survived sweep")
	}
	if _, ok, _ := kv.GetValue(ctx, freshCounter); !ok {
		t.Error("fresh counter removed by sweep")
	}
	if _, ok, _ := kv.GetValue(ctx, cleanupPrefix+"stale"); ok {
		t.Error("snapshot older than 10m survived sweep")
	}
	if _, ok, _ := kv.GetValue(ctx, cleanupPrefix+"fresh"); !ok {
		t.Error("fresh snapshot removed by sweep")
	}
}

func TestSplitCounterKey(t *testing.T) {
	tests := []struct {
		key    string
		op     string
		bucket string
		ok     bool
	}{
		{"count:RegisterColony:2026-08-05T14", "RegisterColony", "2026-08-05T14", true},
		{"count:LookupColony:2026-01-01T00", "LookupColony", "2026-01-01T00", true},
		{"cleanup:abc", "", "", false},
		{"count:", "", "", false},
		{"count:noBucket", "", "", false},
	}
	for _, tt := range tests {
		op, bucket, ok := splitCounterKey(tt.key)
		if op != tt.op || bucket != tt.bucket || ok != tt.ok {
			t.Errorf("splitCounterKey(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.key, op, bucket, ok, tt.op, tt.bucket, tt.ok)
		}
	}
}
