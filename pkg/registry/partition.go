package registry

import (
	"context"
	"sync"
	"time"

	"coral-discovery/pkg/logx"
	"coral-discovery/pkg/model"
	"coral-discovery/pkg/rpc"
	"coral-discovery/pkg/store"
)

// Partition owns all colony and agent state for one mesh. Operations are
// serialized under the partition mutex; each partition runs its own cleanup
// alarm and reports expiry counts to the metrics partition through the
// callback wired by the directory.
type Partition struct {
	id              string
	st              store.RegistryStore
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	version         string
	started         time.Time
	report          func(model.CleanupCounts)

	mu          sync.Mutex
	colonyCache map[string]model.ColonyRecord
	agentCache  map[string]model.AgentRecord

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// PartitionOptions carries the directory-provided wiring for a partition.
type PartitionOptions struct {
	ID              string
	Store           store.RegistryStore
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Version         string
	Report          func(model.CleanupCounts)
}

// NewPartition constructs the partition and schedules its cleanup alarm.
// An initial sweep runs immediately so an overdue cleanup from before a
// restart is not delayed by a full interval.
func NewPartition(opts PartitionOptions) *Partition {
	p := &Partition{
		id:              opts.ID,
		st:              opts.Store,
		defaultTTL:      opts.DefaultTTL,
		cleanupInterval: opts.CleanupInterval,
		version:         opts.Version,
		started:         time.Now(),
		report:          opts.Report,
		colonyCache:     make(map[string]model.ColonyRecord),
		agentCache:      make(map[string]model.AgentRecord),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	go p.runCleanup()
	return p
}

// ID returns the partition identifier (hex form of the directory hash).
func (p *Partition) ID() string { return p.id }

// RegisterColony validates and upserts a colony record, enforcing the
// split-brain invariant and synthesizing the observed endpoint.
func (p *Partition) RegisterColony(ctx context.Context, rec model.ColonyRecord, observedIP string) (model.RegisterResult, error) {
	if rec.MeshID == "" {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInvalidArgument, "meshId is required")
	}
	if rec.Pubkey == "" {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInvalidArgument, "pubkey is required")
	}
	if len(rec.Endpoints) == 0 && rec.ObservedEndpoint == nil {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInvalidArgument, "at least one endpoint or an observed endpoint is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UnixMilli()
	existing, ok, err := p.st.GetColony(ctx, rec.MeshID)
	if err != nil {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInternal, "storage read failed")
	}
	active := ok && existing.ExpiresAt >= now
	if active && existing.Pubkey != rec.Pubkey {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeAlreadyExists, "mesh %q is registered with a different key", rec.MeshID)
	}

	rec.ObservedEndpoint = synthesizeObserved(rec.ObservedEndpoint, observedIP)
	rec.CreatedAt = now
	if ok && existing.Pubkey == rec.Pubkey {
		rec.CreatedAt = existing.CreatedAt
	}
	rec.UpdatedAt = now
	rec.ExpiresAt = now + p.defaultTTL.Milliseconds()

	if err := p.st.UpsertColony(ctx, rec); err != nil {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInternal, "storage write failed")
	}
	p.colonyCache[rec.MeshID] = rec

	return model.RegisterResult{
		TTL:              int64(p.defaultTTL.Seconds()),
		ExpiresAt:        rec.ExpiresAt,
		ObservedEndpoint: rec.ObservedEndpoint,
	}, nil
}

// LookupColony returns the colony for meshID if it has not expired.
func (p *Partition) LookupColony(ctx context.Context, meshID string) (model.ColonyRecord, error) {
	if meshID == "" {
		return model.ColonyRecord{}, rpc.Errorf(rpc.CodeInvalidArgument, "meshId is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UnixMilli()
	if rec, ok := p.colonyCache[meshID]; ok && rec.ExpiresAt >= now {
		return rec, nil
	}
	rec, ok, err := p.st.GetColony(ctx, meshID)
	if err != nil {
		return model.ColonyRecord{}, rpc.Errorf(rpc.CodeInternal, "storage read failed")
	}
	if !ok || rec.ExpiresAt < now {
		return model.ColonyRecord{}, rpc.Errorf(rpc.CodeNotFound, "mesh %q is not registered", meshID)
	}
	p.colonyCache[meshID] = rec
	return rec, nil
}

// RegisterAgent validates and upserts an agent record. Agents upsert
// unconditionally; there is no split-brain check.
func (p *Partition) RegisterAgent(ctx context.Context, rec model.AgentRecord, observedIP string) (model.RegisterResult, error) {
	if rec.AgentID == "" {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInvalidArgument, "agentId is required")
	}
	if rec.MeshID == "" {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInvalidArgument, "meshId is required")
	}
	if rec.Pubkey == "" {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInvalidArgument, "pubkey is required")
	}
	if len(rec.Endpoints) == 0 && rec.ObservedEndpoint == nil {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInvalidArgument, "at least one endpoint or an observed endpoint is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UnixMilli()
	existing, ok, err := p.st.GetAgent(ctx, rec.AgentID)
	if err != nil {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInternal, "storage read failed")
	}

	rec.ObservedEndpoint = synthesizeObserved(rec.ObservedEndpoint, observedIP)
	rec.CreatedAt = now
	if ok {
		rec.CreatedAt = existing.CreatedAt
	}
	rec.UpdatedAt = now
	rec.ExpiresAt = now + p.defaultTTL.Milliseconds()

	if err := p.st.UpsertAgent(ctx, rec); err != nil {
		return model.RegisterResult{}, rpc.Errorf(rpc.CodeInternal, "storage write failed")
	}
	p.agentCache[rec.AgentID] = rec

	return model.RegisterResult{
		TTL:              int64(p.defaultTTL.Seconds()),
		ExpiresAt:        rec.ExpiresAt,
		ObservedEndpoint: rec.ObservedEndpoint,
	}, nil
}

// LookupAgent returns the agent for agentID if it has not expired.
func (p *Partition) LookupAgent(ctx context.Context, agentID string) (model.AgentRecord, error) {
	if agentID == "" {
		return model.AgentRecord{}, rpc.Errorf(rpc.CodeInvalidArgument, "agentId is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UnixMilli()
	if rec, ok := p.agentCache[agentID]; ok && rec.ExpiresAt >= now {
		return rec, nil
	}
	rec, ok, err := p.st.GetAgent(ctx, agentID)
	if err != nil {
		return model.AgentRecord{}, rpc.Errorf(rpc.CodeInternal, "storage read failed")
	}
	if !ok || rec.ExpiresAt < now {
		return model.AgentRecord{}, rpc.Errorf(rpc.CodeNotFound, "agent %q is not registered", agentID)
	}
	p.agentCache[agentID] = rec
	return rec, nil
}

// Count returns the number of non-expired colonies and agents.
func (p *Partition) Count(ctx context.Context) (colonies, agents int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UnixMilli()
	colonies, err = p.st.CountColonies(ctx, now)
	if err != nil {
		return 0, 0, rpc.Errorf(rpc.CodeInternal, "storage read failed")
	}
	agents, err = p.st.CountAgents(ctx, now)
	if err != nil {
		return 0, 0, rpc.Errorf(rpc.CodeInternal, "storage read failed")
	}
	return colonies, agents, nil
}

// Health reports partition liveness and its colony count.
func (p *Partition) Health(ctx context.Context) (model.HealthStatus, error) {
	colonies, _, err := p.Count(ctx)
	if err != nil {
		return model.HealthStatus{}, err
	}
	return model.HealthStatus{
		Status:             "ok",
		Version:            p.version,
		UptimeSeconds:      int64(time.Since(p.started).Seconds()),
		RegisteredColonies: colonies,
	}, nil
}

// Stop halts the cleanup alarm and closes the partition store.
func (p *Partition) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		if err := p.st.Close(); err != nil {
			logx.Warnf("partition %s: close store: %v", p.id, err)
		}
	})
}

// runCleanup is the partition alarm loop. The first sweep runs immediately
// so overdue expirations from a previous process are reclaimed at spawn.
func (p *Partition) runCleanup() {
	defer close(p.done)
	p.cleanupOnce()
	timer := time.NewTimer(p.cleanupInterval)
	defer timer.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-timer.C:
			p.cleanupOnce()
			timer.Reset(p.cleanupInterval)
		}
	}
}

// cleanupOnce deletes expired rows, drops caches when anything was deleted
// and fires a best-effort report to the metrics partition. Reporting
// failures never disturb the alarm schedule.
func (p *Partition) cleanupOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.mu.Lock()
	now := time.Now().UnixMilli()
	expiredColonies, cerr := p.st.DeleteExpiredColonies(ctx, now)
	expiredAgents, aerr := p.st.DeleteExpiredAgents(ctx, now)
	if expiredColonies > 0 || expiredAgents > 0 {
		logx.Infof("partition %s: cleanup removed %d colonies, %d agents", p.id, expiredColonies, expiredAgents)
		p.colonyCache = make(map[string]model.ColonyRecord)
		p.agentCache = make(map[string]model.AgentRecord)
	}
	p.mu.Unlock()

	if cerr != nil {
		logx.Warnf("partition %s: cleanup colonies: %v", p.id, cerr)
	}
	if aerr != nil {
		logx.Warnf("partition %s: cleanup agents: %v", p.id, aerr)
	}
	if p.report != nil {
		p.report(model.CleanupCounts{ExpiredColonies: expiredColonies, ExpiredAgents: expiredAgents})
	}
}
