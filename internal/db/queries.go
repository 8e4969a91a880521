package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/logtrains/internal/entry"
)

// Upsert records (or refreshes) the metadata row for an entry.
func Upsert(ctx context.Context, db *sql.DB, m entry.Meta) error {
	query := `
		INSERT INTO entries (id, captured_at, command, exit_code, byte_length, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			captured_at = excluded.captured_at,
			command     = excluded.command,
			exit_code   = excluded.exit_code,
			byte_length = excluded.byte_length,
			indexed_at  = excluded.indexed_at
	`
	_, err := db.ExecContext(ctx, query,
		m.ID.String(), m.CapturedAt.UnixNano(), toNullString(m.Command), toNullInt(m.ExitCode),
		m.ByteLength, time.Now().Unix(),
	)
	return err
}

// Delete removes the metadata rows for the given ids.
func Delete(ctx context.Context, db *sql.DB, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM entries WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Clear removes every metadata row.
func Clear(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "DELETE FROM entries")
	return err
}

// ListAll returns all indexed metadata keyed by id string.
func ListAll(ctx context.Context, db *sql.DB) (map[string]entry.Meta, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, captured_at, command, exit_code, byte_length
		FROM entries
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]entry.Meta)
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		result[m.ID.String()] = m
	}
	return result, rows.Err()
}

// Count returns the number of indexed entries.
func Count(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n)
	return n, err
}

func scanMeta(rows *sql.Rows) (entry.Meta, error) {
	var (
		id         string
		capturedAt int64
		command    sql.NullString
		exitCode   sql.NullInt64
		byteLength int
	)
	if err := rows.Scan(&id, &capturedAt, &command, &exitCode, &byteLength); err != nil {
		return entry.Meta{}, err
	}

	parsed, err := entry.ParseID(id)
	if err != nil {
		return entry.Meta{}, err
	}

	m := entry.Meta{
		ID:         parsed,
		CapturedAt: time.Unix(0, capturedAt).UTC(),
		ByteLength: byteLength,
	}
	if command.Valid {
		s := command.String
		m.Command = &s
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		m.ExitCode = &code
	}
	return m, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func toNullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
