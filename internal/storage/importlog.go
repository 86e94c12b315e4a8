package storage

import (
	"context"
	"database/sql"

	"github.com/ernie/raceledger/internal/domain"
)

// CreateImportLogEntry appends one audit record for an import attempt
func (s *Store) CreateImportLogEntry(ctx context.Context, e *domain.ImportLogEntry) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO import_log (uuid, server_id, file_path, file_size,
			sessions_in_file, imported, updated, skipped, status, error_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.UUID, e.ServerID, e.FilePath, e.FileSize, e.SessionsInFile,
		e.Imported, e.Updated, e.Skipped, e.Status, nullIfEmpty(e.ErrorDetail))
	if err != nil {
		return err
	}
	e.ID, _ = result.LastInsertId()
	return nil
}

// GetImportLog returns recent import attempts for a server, newest first
func (s *Store) GetImportLog(ctx context.Context, serverID int64, limit int) ([]domain.ImportLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, server_id, file_path, file_size, sessions_in_file,
		       imported, updated, skipped, status, error_detail, created_at
		FROM import_log WHERE server_id = ?
		ORDER BY id DESC LIMIT ?
	`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ImportLogEntry, 0)
	for rows.Next() {
		var e domain.ImportLogEntry
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.UUID, &e.ServerID, &e.FilePath, &e.FileSize,
			&e.SessionsInFile, &e.Imported, &e.Updated, &e.Skipped, &e.Status,
			&detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ErrorDetail = scanNullStringValue(detail)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
