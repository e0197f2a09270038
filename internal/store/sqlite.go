package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/reflow/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a Store. Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// One connection: SQLite serializes writers anyway, and a ":memory:"
	// database exists per connection, so a pool would see different DBs.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Resource catalog ---

// PutResource inserts or replaces the catalog entry for res.Key.
func (s *SQLiteStore) PutResource(ctx context.Context, res *model.Resource) error {
	s.logger.Debug("sql", "op", "upsert", "table", "resources", "key", res.Key)

	if res.Key == "" {
		return model.NewValidationError("resource key is required")
	}
	if res.UpdatedAt.IsZero() {
		res.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (key, value, latency_ms, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, latency_ms=excluded.latency_ms, updated_at=excluded.updated_at`,
		res.Key, res.Value, res.LatencyMS, res.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) GetResource(ctx context.Context, key string) (*model.Resource, error) {
	s.logger.Debug("sql", "op", "select", "table", "resources", "key", key)

	var res model.Resource
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, latency_ms, updated_at FROM resources WHERE key = ?`, key,
	).Scan(&res.Key, &res.Value, &res.LatencyMS, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	res.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &res, nil
}

func (s *SQLiteStore) ListResources(ctx context.Context, opts model.ListOptions) ([]*model.Resource, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "resources", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, latency_ms, updated_at FROM resources ORDER BY key LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var resources []*model.Resource
	for rows.Next() {
		var res model.Resource
		var updatedAt string
		if err := rows.Scan(&res.Key, &res.Value, &res.LatencyMS, &updatedAt); err != nil {
			return nil, 0, err
		}
		res.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		resources = append(resources, &res)
	}
	return resources, total, rows.Err()
}

func (s *SQLiteStore) DeleteResource(ctx context.Context, key string) error {
	s.logger.Debug("sql", "op", "delete", "table", "resources", "key", key)

	result, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE key = ?`, key)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return model.NewNotFoundError("Resource", key)
	}
	return nil
}

// --- Scene library ---

// PutScene inserts or replaces the stored scene by name.
func (s *SQLiteStore) PutScene(ctx context.Context, sc *model.Scene) error {
	s.logger.Debug("sql", "op", "upsert", "table", "scenes", "name", sc.Name)

	if sc.Name == "" {
		return model.NewValidationError("scene name is required")
	}
	treeJSON, err := json.Marshal(sc.Tree)
	if err != nil {
		return fmt.Errorf("marshal tree: %w", err)
	}
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scenes (name, description, tree, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET description=excluded.description, tree=excluded.tree, updated_at=excluded.updated_at`,
		sc.Name, sc.Description, string(treeJSON),
		sc.CreatedAt.Format(time.RFC3339Nano), sc.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) GetScene(ctx context.Context, name string) (*model.Scene, error) {
	s.logger.Debug("sql", "op", "select", "table", "scenes", "name", name)

	var sc model.Scene
	var treeJSON, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, tree, created_at, updated_at FROM scenes WHERE name = ?`, name,
	).Scan(&sc.Name, &sc.Description, &treeJSON, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(treeJSON), &sc.Tree); err != nil {
		return nil, fmt.Errorf("unmarshal tree: %w", err)
	}
	sc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &sc, nil
}

func (s *SQLiteStore) ListScenes(ctx context.Context, opts model.ListOptions) ([]*model.Scene, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "scenes", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scenes`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, tree, created_at, updated_at FROM scenes ORDER BY name LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var scenes []*model.Scene
	for rows.Next() {
		var sc model.Scene
		var treeJSON, createdAt, updatedAt string
		if err := rows.Scan(&sc.Name, &sc.Description, &treeJSON, &createdAt, &updatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(treeJSON), &sc.Tree); err != nil {
			return nil, 0, fmt.Errorf("unmarshal tree for %s: %w", sc.Name, err)
		}
		sc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		scenes = append(scenes, &sc)
	}
	return scenes, total, rows.Err()
}

func (s *SQLiteStore) DeleteScene(ctx context.Context, name string) error {
	s.logger.Debug("sql", "op", "delete", "table", "scenes", "name", name)

	result, err := s.db.ExecContext(ctx, `DELETE FROM scenes WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return model.NewNotFoundError("Scene", name)
	}
	return nil
}
