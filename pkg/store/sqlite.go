package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"coral-discovery/pkg/model"
)

// migrations is an ordered list of SQL statements applied on open. Each
// entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS colonies (
		mesh_id           TEXT PRIMARY KEY,
		pubkey            TEXT NOT NULL,
		endpoints         TEXT NOT NULL DEFAULT '[]',
		mesh_ipv4         TEXT NOT NULL DEFAULT '',
		mesh_ipv6         TEXT NOT NULL DEFAULT '',
		connect_port      INTEGER NOT NULL DEFAULT 0,
		public_port       INTEGER NOT NULL DEFAULT 0,
		metadata          TEXT NOT NULL DEFAULT '{}',
		observed_endpoint TEXT,
		public_endpoint   TEXT,
		nat_hint          INTEGER NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		expires_at        INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_colonies_expires ON colonies(expires_at)`,
	`CREATE TABLE IF NOT EXISTS agents (
		agent_id          TEXT PRIMARY KEY,
		mesh_id           TEXT NOT NULL,
		pubkey            TEXT NOT NULL,
		endpoints         TEXT NOT NULL DEFAULT '[]',
		metadata          TEXT NOT NULL DEFAULT '{}',
		observed_endpoint TEXT,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		expires_at        INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_mesh ON agents(mesh_id)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_expires ON agents(expires_at)`,
	`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// SQLite backs one partition with a single database file. The partition is
// the only writer, so the pool is pinned to one connection.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000&_pragma=journal_mode=WAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// --- Colonies ---

func (s *SQLite) UpsertColony(ctx context.Context, rec model.ColonyRecord) error {
	endpoints, metadata, observed, public, err := marshalColonyColumns(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO colonies (mesh_id, pubkey, endpoints, mesh_ipv4, mesh_ipv6, connect_port, public_port,
			metadata, observed_endpoint, public_endpoint, nat_hint, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mesh_id) DO UPDATE SET
			pubkey = excluded.pubkey,
			endpoints = excluded.endpoints,
			mesh_ipv4 = excluded.mesh_ipv4,
			mesh_ipv6 = excluded.mesh_ipv6,
			connect_port = excluded.connect_port,
			public_port = excluded.public_port,
			metadata = excluded.metadata,
			observed_endpoint = excluded.observed_endpoint,
			public_endpoint = excluded.public_endpoint,
			nat_hint = excluded.nat_hint,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		rec.MeshID, rec.Pubkey, endpoints, rec.MeshIPv4, rec.MeshIPv6, rec.ConnectPort, rec.PublicPort,
		metadata, observed, public, rec.NatHint, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt)
	return err
}

func (s *SQLite) GetColony(ctx context.Context, meshID string) (model.ColonyRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT mesh_id, pubkey, endpoints, mesh_ipv4, mesh_ipv6, connect_port, public_port,
			metadata, observed_endpoint, public_endpoint, nat_hint, created_at, updated_at, expires_at
		 FROM colonies WHERE mesh_id = ?`, meshID)

	var rec model.ColonyRecord
	var endpoints, metadata string
	var observed, public sql.NullString
	err := row.Scan(&rec.MeshID, &rec.Pubkey, &endpoints, &rec.MeshIPv4, &rec.MeshIPv6,
		&rec.ConnectPort, &rec.PublicPort, &metadata, &observed, &public, &rec.NatHint,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return model.ColonyRecord{}, false, nil
	}
	if err != nil {
		return model.ColonyRecord{}, false, err
	}
	if err := unmarshalColonyColumns(&rec, endpoints, metadata, observed, public); err != nil {
		return model.ColonyRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLite) CountColonies(ctx context.Context, now int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM colonies WHERE expires_at >= ?`, now).Scan(&n)
	return n, err
}

func (s *SQLite) DeleteExpiredColonies(ctx context.Context, now int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM colonies WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Agents ---

func (s *SQLite) UpsertAgent(ctx context.Context, rec model.AgentRecord) error {
	endpoints, err := json.Marshal(emptySlice(rec.Endpoints))
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(emptyMap(rec.Metadata))
	if err != nil {
		return err
	}
	observed, err := marshalNullable(rec.ObservedEndpoint)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, mesh_id, pubkey, endpoints, metadata, observed_endpoint,
			created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			mesh_id = excluded.mesh_id,
			pubkey = excluded.pubkey,
			endpoints = excluded.endpoints,
			metadata = excluded.metadata,
			observed_endpoint = excluded.observed_endpoint,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		rec.AgentID, rec.MeshID, rec.Pubkey, string(endpoints), string(metadata), observed,
		rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt)
	return err
}

func (s *SQLite) GetAgent(ctx context.Context, agentID string) (model.AgentRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, mesh_id, pubkey, endpoints, metadata, observed_endpoint,
			created_at, updated_at, expires_at
		 FROM agents WHERE agent_id = ?`, agentID)

	var rec model.AgentRecord
	var endpoints, metadata string
	var observed sql.NullString
	err := row.Scan(&rec.AgentID, &rec.MeshID, &rec.Pubkey, &endpoints, &metadata, &observed,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return model.AgentRecord{}, false, nil
	}
	if err != nil {
		return model.AgentRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(endpoints), &rec.Endpoints); err != nil {
		return model.AgentRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return model.AgentRecord{}, false, err
	}
	if observed.Valid && observed.String != "" {
		rec.ObservedEndpoint = &model.ObservedEndpoint{}
		if err := json.Unmarshal([]byte(observed.String), rec.ObservedEndpoint); err != nil {
			return model.AgentRecord{}, false, err
		}
	}
	return rec, true, nil
}

func (s *SQLite) CountAgents(ctx context.Context, now int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE expires_at >= ?`, now).Scan(&n)
	return n, err
}

func (s *SQLite) DeleteExpiredAgents(ctx context.Context, now int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- KV (metrics partition) ---

func (s *SQLite) GetValue(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLite) PutValues(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) ListPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key >= ? AND key < ?`, prefix, prefix+"\xff")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// --- column helpers ---

func marshalColonyColumns(rec model.ColonyRecord) (endpoints, metadata string, observed, public sql.NullString, err error) {
	eb, err := json.Marshal(emptySlice(rec.Endpoints))
	if err != nil {
		return "", "", observed, public, err
	}
	mb, err := json.Marshal(emptyMap(rec.Metadata))
	if err != nil {
		return "", "", observed, public, err
	}
	observed, err = marshalNullable(rec.ObservedEndpoint)
	if err != nil {
		return "", "", observed, public, err
	}
	public, err = marshalNullable(rec.PublicEndpoint)
	if err != nil {
		return "", "", observed, public, err
	}
	return string(eb), string(mb), observed, public, nil
}

func unmarshalColonyColumns(rec *model.ColonyRecord, endpoints, metadata string, observed, public sql.NullString) error {
	if err := json.Unmarshal([]byte(endpoints), &rec.Endpoints); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return err
	}
	if observed.Valid && observed.String != "" {
		rec.ObservedEndpoint = &model.ObservedEndpoint{}
		if err := json.Unmarshal([]byte(observed.String), rec.ObservedEndpoint); err != nil {
			return err
		}
	}
	if public.Valid && public.String != "" {
		rec.PublicEndpoint = &model.PublicEndpoint{}
		if err := json.Unmarshal([]byte(public.String), rec.PublicEndpoint); err != nil {
			return err
		}
	}
	return nil
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	switch t := v.(type) {
	case *model.ObservedEndpoint:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *model.PublicEndpoint:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
