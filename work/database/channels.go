package database

import (
	"context"
	"fmt"

	"chanrelay/work/directory"
	"chanrelay/work/logger"
	"chanrelay/work/types"
)

// ReplaceChannels replaces the stored table with the records of gen inside a
// single transaction, so readers of the file see either the previous snapshot
// or the new one.
func (db *DB) ReplaceChannels(ctx context.Context, gen *directory.Generation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM channels"); err != nil {
		return fmt.Errorf("failed to clear channels: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channels (id, generation, position, category_name, name, logo, link,
		                      cookie, drm_scheme, drm_license, server_name, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	records := gen.Records()
	for i, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID, int64(gen.Seq), i, rec.CategoryName, rec.Name, rec.Logo, rec.Link,
			rec.Cookie, rec.DRMScheme, rec.DRMLicense, rec.ServerName, rec.UserAgent,
		)
		if err != nil {
			return fmt.Errorf("failed to insert channel %s: %w", rec.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, generation, records, built_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			generation = excluded.generation,
			records = excluded.records,
			built_at = excluded.built_at
	`, int64(gen.Seq), len(records), gen.BuiltAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	logger.Debug("{database/channels - ReplaceChannels} Stored generation %d with %d channels", gen.Seq, len(records))
	return nil
}

// LoadChannels returns the stored records in directory order.
func (db *DB) LoadChannels(ctx context.Context) ([]types.ChannelRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, category_name, name, logo, link, cookie, drm_scheme, drm_license, server_name, user_agent
		FROM channels
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	defer rows.Close()

	var channels []types.ChannelRecord
	for rows.Next() {
		var rec types.ChannelRecord
		err := rows.Scan(
			&rec.ID, &rec.CategoryName, &rec.Name, &rec.Logo, &rec.Link,
			&rec.Cookie, &rec.DRMScheme, &rec.DRMLicense, &rec.ServerName, &rec.UserAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		rec.Headers = types.HeadersFor(rec.Cookie, rec.UserAgent)
		channels = append(channels, rec)
	}

	return channels, rows.Err()
}
