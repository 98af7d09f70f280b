package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"discord-simulator/backend/internal/markov"
	apperrors "discord-simulator/backend/pkg/errors"
)

// SQLiteStore keeps graphs in an embedded SQLite database
type SQLiteStore struct {
	db      *sql.DB
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

// OpenSQLite opens (or creates) the database at path, configures pragmas
// and runs migrations.
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newSQLiteStore(ctx, db, path, opts)
}

// sqliteDSN carries the per-connection pragmas, so every connection the pool
// opens waits on a busy database instead of failing with SQLITE_BUSY. Write
// transactions take the lock up front with BEGIN IMMEDIATE.
func sqliteDSN(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_txlock=immediate"
}

// OpenSQLiteMemory opens a private in-memory database, used by tests
func OpenSQLiteMemory(ctx context.Context, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every pooled connection would otherwise see its own empty database
	db.SetMaxOpenConns(1)
	return newSQLiteStore(ctx, db, ":memory:", opts)
}

func newSQLiteStore(ctx context.Context, db *sql.DB, path string, opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()
	s := &SQLiteStore{db: db, path: path, timeout: opts.Timeout, logger: opts.Logger}
	if err := s.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.logger.Info("SQLite word graph store ready", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// SchemaVersion returns the newest applied migration
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

func (s *SQLiteStore) fail(op, entityID string, err error) error {
	return storageError(op, entityID, s.timeout, err, isSQLiteConflict)
}

func isSQLiteConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// Extended codes keep the primary code in the low byte
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// Load implements Store
func (s *SQLiteStore) Load(ctx context.Context, entityID string) (*markov.Graph, error) {
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("load", entityID, err)
	}
	defer tx.Rollback()

	nodes, err := scanNodes(ctx, tx, entityID)
	if err != nil {
		return nil, s.fail("load", entityID, err)
	}
	if len(nodes) == 0 {
		return nil, apperrors.NewUnknownEntity(entityID)
	}
	edges, err := scanEdges(ctx, tx, entityID)
	if err != nil {
		return nil, s.fail("load", entityID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.fail("load", entityID, err)
	}
	return markov.Restore(entityID, nodes, edges)
}

func scanNodes(ctx context.Context, tx *sql.Tx, entityID string) ([]markov.NodeRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT word, total_count FROM word_nodes WHERE entity_id = ?
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []markov.NodeRecord
	for rows.Next() {
		var word string
		var total int64
		if err := rows.Scan(&word, &total); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, markov.NodeRecord{Word: word, Total: toUint64(total)})
	}
	return nodes, rows.Err()
}

func scanEdges(ctx context.Context, tx *sql.Tx, entityID string) ([]markov.EdgeRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT source_word, target_word, weight FROM word_edges WHERE entity_id = ?
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []markov.EdgeRecord
	for rows.Next() {
		var e markov.EdgeRecord
		var weight int64
		if err := rows.Scan(&e.Source, &e.Target, &weight); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Weight = toUint64(weight)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Commit implements Store
func (s *SQLiteStore) Commit(ctx context.Context, changes markov.ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("commit", changes.EntityID, err)
	}
	if err := applyChanges(ctx, tx, changes); err != nil {
		tx.Rollback()
		return s.fail("commit", changes.EntityID, err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("commit", changes.EntityID, err)
	}
	return nil
}

func applyChanges(ctx context.Context, tx *sql.Tx, changes markov.ChangeSet) error {
	id := changes.EntityID
	for _, n := range changes.UpsertNodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO word_nodes (entity_id, word, total_count) VALUES (?, ?, ?)
			ON CONFLICT(entity_id, word) DO UPDATE SET total_count = excluded.total_count
		`, id, n.Word, toInt64(n.Total)); err != nil {
			return fmt.Errorf("upsert node %q: %w", n.Word, err)
		}
	}
	for _, e := range changes.UpsertEdges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO word_edges (entity_id, source_word, target_word, weight) VALUES (?, ?, ?, ?)
			ON CONFLICT(entity_id, source_word, target_word) DO UPDATE SET weight = excluded.weight
		`, id, e.Source, e.Target, toInt64(e.Weight)); err != nil {
			return fmt.Errorf("upsert edge %q -> %q: %w", e.Source, e.Target, err)
		}
	}
	for _, k := range changes.DeleteEdges {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM word_edges WHERE entity_id = ? AND source_word = ? AND target_word = ?
		`, id, k.Source, k.Target); err != nil {
			return fmt.Errorf("delete edge %q -> %q: %w", k.Source, k.Target, err)
		}
	}
	for _, word := range changes.DeleteNodes {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM word_nodes WHERE entity_id = ? AND word = ?
		`, id, word); err != nil {
			return fmt.Errorf("delete node %q: %w", word, err)
		}
	}
	return nil
}

// Delete implements Store
func (s *SQLiteStore) Delete(ctx context.Context, entityID string) error {
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("delete", entityID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM word_edges WHERE entity_id = ?`, entityID); err != nil {
		return s.fail("delete", entityID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM word_nodes WHERE entity_id = ?`, entityID); err != nil {
		return s.fail("delete", entityID, err)
	}
	return s.fail("delete", entityID, tx.Commit())
}

// Entities implements Store
func (s *SQLiteStore) Entities(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id FROM word_nodes
		WHERE word = ? AND instr(entity_id, ?) = 1
		ORDER BY entity_id
	`, markov.Start, prefix)
	if err != nil {
		return nil, s.fail("entities", "", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("entities", "", err)
		}
		ids = append(ids, id)
	}
	return ids, s.fail("entities", "", rows.Err())
}

// AddChannel implements ChannelRegistry
func (s *SQLiteStore) AddChannel(ctx context.Context, channel Channel) (bool, error) {
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	if channel.AddedAt.IsZero() {
		channel.AddedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sim_channels (channel_id, guild_id, added_at) VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO NOTHING
	`, channel.ID, channel.GuildID, channel.AddedAt.UnixMilli())
	if err != nil {
		return false, s.fail("add channel", "", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// RemoveChannel implements ChannelRegistry
func (s *SQLiteStore) RemoveChannel(ctx context.Context, channelID string) (bool, error) {
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM sim_channels WHERE channel_id = ?`, channelID)
	if err != nil {
		return false, s.fail("remove channel", "", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Channels implements ChannelRegistry
func (s *SQLiteStore) Channels(ctx context.Context) ([]Channel, error) {
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, guild_id, added_at FROM sim_channels ORDER BY channel_id
	`)
	if err != nil {
		return nil, s.fail("channels", "", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var c Channel
		var addedAt int64
		if err := rows.Scan(&c.ID, &c.GuildID, &addedAt); err != nil {
			return nil, s.fail("channels", "", err)
		}
		c.AddedAt = time.UnixMilli(addedAt)
		channels = append(channels, c)
	}
	return channels, s.fail("channels", "", rows.Err())
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
