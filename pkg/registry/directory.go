package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sync"
	"time"

	"coral-discovery/pkg/logx"
	"coral-discovery/pkg/model"
	"coral-discovery/pkg/store"
)

// MetricsName is the reserved partition name of the metrics singleton.
const MetricsName = "global"

// IDFromName deterministically maps a partition name to its id. Equal
// names produce equal ids across process lifetimes.
func IDFromName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// idString is the stable textual partition id used in file names, metrics
// keys and logs.
func idString(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

// DirectoryOptions configures partition spawning. An empty DataDir selects
// in-memory storage (tests, dev runs).
type DirectoryOptions struct {
	DataDir         string
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Version         string
}

// Directory owns the mesh-id → partition mapping. It spawns at most one
// live partition per id and hands registry partitions a reporting callback
// instead of a metrics reference, so partition lifecycle stays in one
// place.
type Directory struct {
	opts DirectoryOptions

	mu         sync.Mutex
	partitions map[uint64]*Partition
	metrics    *MetricsPartition
}

func NewDirectory(opts DirectoryOptions) *Directory {
	return &Directory{
		opts:       opts,
		partitions: make(map[uint64]*Partition),
	}
}

// Partition returns the live owner for meshID, spawning it on first use.
func (d *Directory) Partition(meshID string) (*Partition, error) {
	id := IDFromName(meshID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.partitions[id]; ok {
		return p, nil
	}

	st, err := d.openRegistryStore(id)
	if err != nil {
		return nil, fmt.Errorf("open partition store: %w", err)
	}
	origin := idString(id)
	p := NewPartition(PartitionOptions{
		ID:              origin,
		Store:           st,
		DefaultTTL:      d.opts.DefaultTTL,
		CleanupInterval: d.opts.CleanupInterval,
		Version:         d.opts.Version,
		Report:          d.reporter(origin),
	})
	d.partitions[id] = p
	logx.Debugf("directory: spawned partition %s", origin)
	return p, nil
}

// Metrics returns the metrics singleton, spawning it on first use.
func (d *Directory) Metrics() (*MetricsPartition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metricsLocked()
}

func (d *Directory) metricsLocked() (*MetricsPartition, error) {
	if d.metrics != nil {
		return d.metrics, nil
	}
	kv, err := d.openMetricsStore()
	if err != nil {
		return nil, fmt.Errorf("open metrics store: %w", err)
	}
	d.metrics = NewMetricsPartition(kv)
	logx.Debugf("directory: spawned metrics partition %s", MetricsName)
	return d.metrics, nil
}

// Live returns the registry partitions spawned so far, for best-effort
// aggregation (health).
func (d *Directory) Live() []*Partition {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Partition, 0, len(d.partitions))
	for _, p := range d.partitions {
		out = append(out, p)
	}
	return out
}

// Shutdown stops every live partition and the metrics singleton.
func (d *Directory) Shutdown() {
	d.mu.Lock()
	parts := make([]*Partition, 0, len(d.partitions))
	for _, p := range d.partitions {
		parts = append(parts, p)
	}
	metrics := d.metrics
	d.mu.Unlock()

	for _, p := range parts {
		p.Stop()
	}
	if metrics != nil {
		metrics.Stop()
	}
}

// reporter builds the best-effort cleanup report callback for a partition.
// Failures are logged and swallowed so a cleanup tick never fails on
// metrics delivery.
func (d *Directory) reporter(origin string) func(model.CleanupCounts) {
	return func(counts model.CleanupCounts) {
		m, err := d.Metrics()
		if err != nil {
			logx.Warnf("partition %s: metrics partition unavailable: %v", origin, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Report(ctx, counts, origin); err != nil {
			logx.Warnf("partition %s: cleanup report failed: %v", origin, err)
		}
	}
}

func (d *Directory) openRegistryStore(id uint64) (store.RegistryStore, error) {
	if d.opts.DataDir == "" {
		return store.NewMemoryStore(), nil
	}
	return store.OpenSQLite(filepath.Join(d.opts.DataDir, "registry-"+idString(id)+".db"))
}

func (d *Directory) openMetricsStore() (store.KVStore, error) {
	if d.opts.DataDir == "" {
		return store.NewMemoryStore(), nil
	}
	return store.OpenSQLite(filepath.Join(d.opts.DataDir, "metrics-"+MetricsName+".db"))
}
