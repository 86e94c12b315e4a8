package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ernie/raceledger/internal/domain"
)

// UpsertServer creates or updates a server keyed by its identifier.
// The identifier is operator-assigned or derived from the in-file server
// name; the unique constraint guarantees no duplicate servers.
func (s *Store) UpsertServer(ctx context.Context, srv *domain.Server) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (identifier, name, file_path)
		VALUES (?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			name = excluded.name,
			file_path = excluded.file_path
	`, srv.Identifier, srv.Name, srv.FilePath)
	if err != nil {
		return err
	}

	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	return s.db.QueryRowContext(ctx, "SELECT id FROM servers WHERE identifier = ?", srv.Identifier).Scan(&srv.ID)
}

// UpdateServerImportState advances the server's history cursor and
// last-import timestamp after a completed import
func (s *Store) UpdateServerImportState(ctx context.Context, serverID, nextHistoryIndex int64, importedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE servers SET next_history_index = ?, last_import_at = ?
		WHERE id = ?
	`, nextHistoryIndex, formatTimestamp(importedAt), serverID)
	return err
}

// GetServers returns all servers
func (s *Store) GetServers(ctx context.Context) ([]domain.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identifier, name, file_path, next_history_index, last_import_at, created_at
		FROM servers ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

// GetServerByID returns a server by ID, or nil if absent
func (s *Store) GetServerByID(ctx context.Context, id int64) (*domain.Server, error) {
	srv, err := scanServer(s.db.QueryRowContext(ctx, `
		SELECT id, identifier, name, file_path, next_history_index, last_import_at, created_at
		FROM servers WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return srv, err
}

// GetServerByIdentifier returns a server by identifier, or nil if absent
func (s *Store) GetServerByIdentifier(ctx context.Context, identifier string) (*domain.Server, error) {
	srv, err := scanServer(s.db.QueryRowContext(ctx, `
		SELECT id, identifier, name, file_path, next_history_index, last_import_at, created_at
		FROM servers WHERE identifier = ?
	`, identifier))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return srv, err
}

// GetServerSummary returns a server with session and player counts
func (s *Store) GetServerSummary(ctx context.Context, serverID int64) (*domain.ServerSummary, error) {
	srv, err := s.GetServerByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, fmt.Errorf("server %d: %w", serverID, ErrNotFound)
	}

	summary := domain.ServerSummary{Server: *srv}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions WHERE server_id = ?),
			(SELECT COUNT(*) FROM player_server_stats WHERE server_id = ?)
	`, serverID, serverID).Scan(&summary.SessionCount, &summary.PlayerCount)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// DeleteServer removes a server and all rows derived from its imports.
// Deletion order matters: player_distances, player_server_stats, and
// import_log carry no database-enforced cascade and must be cleared
// explicitly before the server row; sessions cascade to their own children
// through the schema.
func (s *Store) DeleteServer(ctx context.Context, serverID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM player_distances WHERE server_id = ?`,
		`DELETE FROM player_server_stats WHERE server_id = ?`,
		`DELETE FROM import_log WHERE server_id = ?`,
		`DELETE FROM sessions WHERE server_id = ?`,
		`DELETE FROM servers WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, serverID); err != nil {
			return err
		}
	}

	return tx.Commit()
}
