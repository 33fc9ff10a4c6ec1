package store

import (
	"context"

	"coral-discovery/pkg/model"
)

// RegistryStore defines the persistence layer owned by a single registry
// partition. All timestamps are milliseconds since epoch; "now" parameters
// let callers pin the expiry horizon for a whole operation.
type RegistryStore interface {
	UpsertColony(ctx context.Context, rec model.ColonyRecord) error
	GetColony(ctx context.Context, meshID string) (model.ColonyRecord, bool, error)
	CountColonies(ctx context.Context, now int64) (int, error)
	DeleteExpiredColonies(ctx context.Context, now int64) (int, error)

	UpsertAgent(ctx context.Context, rec model.AgentRecord) error
	GetAgent(ctx context.Context, agentID string) (model.AgentRecord, bool, error)
	CountAgents(ctx context.Context, now int64) (int, error)
	DeleteExpiredAgents(ctx context.Context, now int64) (int, error)

	Close() error
}

// KVStore is the key-value surface used by the metrics partition for
// counter buckets and cleanup snapshots.
type KVStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	PutValues(ctx context.Context, values map[string]string) error
	ListPrefix(ctx context.Context, prefix string) (map[string]string, error)
	DeleteKeys(ctx context.Context, keys []string) error

	Close() error
}
