package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ernie/raceledger/internal/domain"
)

// UpsertPlayer creates or updates a player keyed by steam id. The display
// name is monotonic: it is only replaced when the observation timestamp is
// strictly greater than the stored last-seen, so a replayed older snapshot
// never regresses a name. lastSeen always advances to the max of stored
// and observed.
func (s *Store) UpsertPlayer(ctx context.Context, steamID, name string, observedAt time.Time) (*domain.Player, error) {
	if steamID == "" || name == "" {
		return nil, fmt.Errorf("player requires steam id and name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var p domain.Player
	err = tx.QueryRowContext(ctx, `
		SELECT id, steam_id, name, first_seen, last_seen
		FROM players WHERE steam_id = ?
	`, steamID).Scan(&p.ID, &p.SteamID, &p.Name, &p.FirstSeen, &p.LastSeen)

	if err == sql.ErrNoRows {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO players (steam_id, name, first_seen, last_seen)
			VALUES (?, ?, ?, ?)
		`, steamID, name, formatTimestamp(observedAt), formatTimestamp(observedAt))
		if err != nil {
			return nil, fmt.Errorf("creating player: %w", err)
		}
		p = domain.Player{
			SteamID:   steamID,
			Name:      name,
			FirstSeen: observedAt,
			LastSeen:  observedAt,
		}
		p.ID, _ = result.LastInsertId()
	} else if err != nil {
		return nil, err
	} else if observedAt.After(p.LastSeen) {
		_, err = tx.ExecContext(ctx, `
			UPDATE players SET name = ?, last_seen = ? WHERE id = ?
		`, name, formatTimestamp(observedAt), p.ID)
		if err != nil {
			return nil, err
		}
		p.Name = name
		p.LastSeen = observedAt
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return &p, nil
}

// GetPlayerBySteamID returns a player by steam id, or nil if absent
func (s *Store) GetPlayerBySteamID(ctx context.Context, steamID string) (*domain.Player, error) {
	var p domain.Player
	err := s.db.QueryRowContext(ctx, `
		SELECT id, steam_id, name, first_seen, last_seen
		FROM players WHERE steam_id = ?
	`, steamID).Scan(&p.ID, &p.SteamID, &p.Name, &p.FirstSeen, &p.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayers returns players with pagination support
func (s *Store) GetPlayers(ctx context.Context, limit, offset int) ([]domain.Player, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, steam_id, name, first_seen, last_seen
		FROM players ORDER BY last_seen DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		var p domain.Player
		if err := rows.Scan(&p.ID, &p.SteamID, &p.Name, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, 0, err
		}
		players = append(players, p)
	}
	return players, total, rows.Err()
}

// ReplacePlayerServerStats overwrites a player's per-server counters from
// the snapshot's authoritative cumulative values. Never incremented: the
// snapshot reports totals, not deltas.
func (s *Store) ReplacePlayerServerStats(ctx context.Context, stats *domain.PlayerServerStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO player_server_stats (player_id, server_id, join_count, finish_count, load_count, last_joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(player_id, server_id) DO UPDATE SET
			join_count = excluded.join_count,
			finish_count = excluded.finish_count,
			load_count = excluded.load_count,
			last_joined_at = excluded.last_joined_at
	`, stats.PlayerID, stats.ServerID, stats.JoinCount, stats.FinishCount,
		stats.LoadCount, nullTimestamp(stats.LastJoinedAt))
	return err
}

// ReplacePlayerDistance overwrites a player's cumulative distance on one
// track of one server
func (s *Store) ReplacePlayerDistance(ctx context.Context, d *domain.PlayerDistance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO player_distances (player_id, server_id, track, distance_meters)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(player_id, server_id, track) DO UPDATE SET
			distance_meters = excluded.distance_meters
	`, d.PlayerID, d.ServerID, d.Track, d.DistanceMeters)
	return err
}

// GetPlayerServerStats returns a player's counters across all servers
func (s *Store) GetPlayerServerStats(ctx context.Context, playerID int64) ([]domain.PlayerServerStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, server_id, join_count, finish_count, load_count, last_joined_at
		FROM player_server_stats WHERE player_id = ?
		ORDER BY server_id
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlayerServerStats
	for rows.Next() {
		var st domain.PlayerServerStats
		var lastJoined sql.NullTime
		if err := rows.Scan(&st.ID, &st.PlayerID, &st.ServerID, &st.JoinCount,
			&st.FinishCount, &st.LoadCount, &lastJoined); err != nil {
			return nil, err
		}
		st.LastJoinedAt = scanNullTime(lastJoined)
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetPlayerDistances returns a player's per-track distances across all servers
func (s *Store) GetPlayerDistances(ctx context.Context, playerID int64) ([]domain.PlayerDistance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, server_id, track, distance_meters
		FROM player_distances WHERE player_id = ?
		ORDER BY server_id, track
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlayerDistance
	for rows.Next() {
		var d domain.PlayerDistance
		if err := rows.Scan(&d.ID, &d.PlayerID, &d.ServerID, &d.Track, &d.DistanceMeters); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
