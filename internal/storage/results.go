package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ernie/raceledger/internal/domain"
)

// GetPlayerResults returns a player's result history, newest sessions
// first. serverID narrows to one server when non-nil.
func (s *Store) GetPlayerResults(ctx context.Context, playerID int64, serverID *int64, limit int) ([]domain.PlayerResult, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT sess.id, sess.session_index, sess.server_id, st.name, sess.track,
		       sess.start_time, r.position, r.state, r.laps_completed,
		       r.fastest_lap_ms, r.total_time_ms
		FROM stage_results r
		JOIN stages st ON r.stage_id = st.id
		JOIN sessions sess ON st.session_id = sess.id
		WHERE r.player_id = ?`

	args := []interface{}{playerID}
	if serverID != nil {
		query += ` AND sess.server_id = ?`
		args = append(args, *serverID)
	}
	query += ` ORDER BY sess.start_time DESC, st.id, r.position LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.PlayerResult, 0)
	for rows.Next() {
		var pr domain.PlayerResult
		if err := rows.Scan(&pr.SessionID, &pr.SessionIndex, &pr.ServerID, &pr.StageName,
			&pr.Track, &pr.StartTime, &pr.Position, &pr.State, &pr.LapsDone,
			&pr.FastestLapMs, &pr.TotalTimeMs); err != nil {
			return nil, err
		}
		results = append(results, pr)
	}
	return results, rows.Err()
}

// GetPlayerBestLaps returns a player's minimum positive lap time per track.
// Zero or negative lap times mean no valid lap and are excluded from the
// minimum. serverID narrows to one server when non-nil.
func (s *Store) GetPlayerBestLaps(ctx context.Context, playerID int64, serverID *int64) ([]domain.BestLap, error) {
	query := `
		SELECT sess.track, MIN(r.fastest_lap_ms), sess.id, st.name
		FROM stage_results r
		JOIN stages st ON r.stage_id = st.id
		JOIN sessions sess ON st.session_id = sess.id
		WHERE r.player_id = ? AND r.fastest_lap_ms > 0`

	args := []interface{}{playerID}
	if serverID != nil {
		query += ` AND sess.server_id = ?`
		args = append(args, *serverID)
	}
	query += ` GROUP BY sess.track ORDER BY sess.track`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	laps := make([]domain.BestLap, 0)
	for rows.Next() {
		var bl domain.BestLap
		if err := rows.Scan(&bl.Track, &bl.FastestLapMs, &bl.SessionID, &bl.StageName); err != nil {
			return nil, err
		}
		laps = append(laps, bl)
	}
	return laps, rows.Err()
}

// ManualResult is the operator-entered result contract
type ManualResult struct {
	SessionID      int64
	StageName      string
	Name           string
	SteamID        string // optional; silently unresolved if unknown
	Position       int
	State          string
	LapsCompleted  int
	FastestLapTime int64 // milliseconds, optional
	TotalTime      int64 // milliseconds
}

// InsertManualResult adds an operator-entered stage result outside the
// import path. The stage must already exist; the steam id is resolved to a
// player when known and deliberately left unresolved otherwise, so results
// can be entered for untracked drivers.
func (s *Store) InsertManualResult(ctx context.Context, mr ManualResult) (*domain.StageResult, error) {
	var stageID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM stages WHERE session_id = ? AND name = ?
	`, mr.SessionID, mr.StageName).Scan(&stageID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("stage %q of session %d: %w", mr.StageName, mr.SessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var playerID *int64
	if mr.SteamID != "" {
		player, err := s.GetPlayerBySteamID(ctx, mr.SteamID)
		if err != nil {
			return nil, err
		}
		if player != nil {
			playerID = &player.ID
		}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_results (stage_id, position, player_id, steam_id, name,
			laps_completed, fastest_lap_ms, total_time_ms, state, is_manual)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, stageID, mr.Position, playerID, mr.SteamID, mr.Name,
		mr.LapsCompleted, mr.FastestLapTime, mr.TotalTime, mr.State)
	if err != nil {
		return nil, err
	}

	row := domain.StageResult{
		StageID:      stageID,
		Position:     mr.Position,
		PlayerID:     playerID,
		SteamID:      mr.SteamID,
		Name:         mr.Name,
		LapsDone:     mr.LapsCompleted,
		FastestLapMs: mr.FastestLapTime,
		TotalTimeMs:  mr.TotalTime,
		State:        mr.State,
		IsManual:     true,
	}
	row.ID, _ = result.LastInsertId()
	return &row, nil
}

// DeleteManualResult removes an operator-entered result. Rows not flagged
// manual are refused, protecting parsed data from accidental deletion.
func (s *Store) DeleteManualResult(ctx context.Context, resultID int64) error {
	var isManual bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_manual FROM stage_results WHERE id = ?
	`, resultID).Scan(&isManual)
	if err == sql.ErrNoRows {
		return fmt.Errorf("result %d: %w", resultID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if !isManual {
		return fmt.Errorf("result %d: %w", resultID, ErrNotManualResult)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM stage_results WHERE id = ?`, resultID)
	return err
}
