package graph

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "word_nodes and word_edges: one transition graph per entity",
		SQL: `
CREATE TABLE word_nodes (
    entity_id    TEXT    NOT NULL,
    word         TEXT    NOT NULL,
    total_count  INTEGER NOT NULL DEFAULT 0 CHECK (total_count >= 0),

    PRIMARY KEY (entity_id, word)
);

CREATE TABLE word_edges (
    entity_id    TEXT    NOT NULL,
    source_word  TEXT    NOT NULL,
    target_word  TEXT    NOT NULL,
    weight       INTEGER NOT NULL CHECK (weight > 0),

    PRIMARY KEY (entity_id, source_word, target_word),
    FOREIGN KEY (entity_id, source_word) REFERENCES word_nodes(entity_id, word) ON DELETE CASCADE,
    FOREIGN KEY (entity_id, target_word) REFERENCES word_nodes(entity_id, word) ON DELETE CASCADE
);

CREATE INDEX idx_edges_target ON word_edges(entity_id, target_word);
`,
	},
	{
		Version:     2,
		Description: "sim_channels: channels with scheduled simulations",
		SQL: `
CREATE TABLE sim_channels (
    channel_id  TEXT    PRIMARY KEY,
    guild_id    TEXT    NOT NULL,
    added_at    INTEGER NOT NULL
);

CREATE INDEX idx_channels_guild ON sim_channels(guild_id);
`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// schemaVersion returns the newest applied migration
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
