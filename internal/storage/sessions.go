package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ernie/raceledger/internal/domain"
)

// GetSessionByIndex returns the session at (server, session_index), or nil
// if absent. The pair is unique, so this is the dedup lookup.
func (s *Store) GetSessionByIndex(ctx context.Context, serverID, sessionIndex int64) (*domain.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, server_id, session_index, start_time, end_time, finished, track,
		       vehicle_model, vehicle_class, setup, content_hash, imported_at, updated_at
		FROM sessions WHERE server_id = ? AND session_index = ?
	`, serverID, sessionIndex))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// GetSessionByID returns a session by ID, or nil if absent
func (s *Store) GetSessionByID(ctx context.Context, id int64) (*domain.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, server_id, session_index, start_time, end_time, finished, track,
		       vehicle_model, vehicle_class, setup, content_hash, imported_at, updated_at
		FROM sessions WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// CreateSessionTree inserts a session and all of its child rows in one
// atomic transaction. Any failure rolls back the entire session's writes.
func (s *Store) CreateSessionTree(ctx context.Context, sess *domain.Session,
	participants []domain.Participant, members []domain.Member, stages []domain.StageWithResults) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTimestamp(time.Now())
	result, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (server_id, session_index, start_time, end_time, finished,
			track, vehicle_model, vehicle_class, setup, content_hash, imported_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ServerID, sess.SessionIndex, formatTimestamp(sess.StartTime),
		nullTimestamp(sess.EndTime), sess.Finished, sess.Track, sess.VehicleModel,
		sess.VehicleClass, sess.Setup, sess.ContentHash, now, now)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	sess.ID, _ = result.LastInsertId()

	if err := insertSessionChildren(ctx, tx, sess.ID, participants, members, stages); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceSessionTree rewrites a changed session in one atomic transaction:
// all existing child rows are deleted in referential order, the session
// row's mutable fields and hash are updated, and the children re-inserted.
// Stage results are always replaced as a complete set; partial patching
// would leave orphaned or duplicated rows.
func (s *Store) ReplaceSessionTree(ctx context.Context, sessionID int64, sess *domain.Session,
	participants []domain.Participant, members []domain.Member, stages []domain.StageWithResults) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// StageResult -> Stage -> Member -> Participant
	for _, stmt := range []string{
		`DELETE FROM stage_results WHERE stage_id IN (SELECT id FROM stages WHERE session_id = ?)`,
		`DELETE FROM stages WHERE session_id = ?`,
		`DELETE FROM members WHERE session_id = ?`,
		`DELETE FROM participants WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
			return fmt.Errorf("clearing session children: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET start_time = ?, end_time = ?, finished = ?, track = ?,
			vehicle_model = ?, vehicle_class = ?, setup = ?, content_hash = ?, updated_at = ?
		WHERE id = ?
	`, formatTimestamp(sess.StartTime), nullTimestamp(sess.EndTime), sess.Finished,
		sess.Track, sess.VehicleModel, sess.VehicleClass, sess.Setup, sess.ContentHash,
		formatTimestamp(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	sess.ID = sessionID

	if err := insertSessionChildren(ctx, tx, sessionID, participants, members, stages); err != nil {
		return err
	}
	return tx.Commit()
}

// insertSessionChildren writes participants, members, stages, and stage
// results within the caller's transaction
func insertSessionChildren(ctx context.Context, tx *sql.Tx, sessionID int64,
	participants []domain.Participant, members []domain.Member, stages []domain.StageWithResults) error {

	for _, p := range participants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO participants (session_id, idx, player_id, steam_id, name, vehicle, livery, ref_id, is_player)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, p.Index, p.PlayerID, p.SteamID, p.Name, p.Vehicle, p.Livery, p.RefID, p.IsPlayer)
		if err != nil {
			return fmt.Errorf("inserting participant %d: %w", p.Index, err)
		}
	}

	for _, m := range members {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO members (session_id, ref_id, player_id, steam_id, name, joined_at, left_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sessionID, m.RefID, m.PlayerID, m.SteamID, m.Name,
			nullTimestamp(m.JoinedAt), nullTimestamp(m.LeftAt))
		if err != nil {
			return fmt.Errorf("inserting member %d: %w", m.RefID, err)
		}
	}

	for _, sw := range stages {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO stages (session_id, name, start_time, end_time)
			VALUES (?, ?, ?, ?)
		`, sessionID, sw.Stage.Name, nullTimestamp(sw.Stage.StartTime), nullTimestamp(sw.Stage.EndTime))
		if err != nil {
			return fmt.Errorf("inserting stage %q: %w", sw.Stage.Name, err)
		}
		stageID, _ := result.LastInsertId()

		for _, r := range sw.Results {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO stage_results (stage_id, position, player_id, steam_id, name,
					laps_completed, fastest_lap_ms, total_time_ms, state, is_manual)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, stageID, r.Position, r.PlayerID, r.SteamID, r.Name,
				r.LapsDone, r.FastestLapMs, r.TotalTimeMs, r.State, r.IsManual)
			if err != nil {
				return fmt.Errorf("inserting result pos %d of stage %q: %w", r.Position, sw.Stage.Name, err)
			}
		}
	}
	return nil
}

// SessionFilter defines filters for querying sessions
type SessionFilter struct {
	Limit      int
	Offset     int
	HasResults bool // only sessions with at least one stage result
}

// GetSessions returns sessions of a server ordered by start time
// descending, with offset-based pagination
func (s *Store) GetSessions(ctx context.Context, serverID int64, filter SessionFilter) ([]domain.SessionSummary, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := `
		SELECT s.id, s.server_id, s.session_index, s.start_time, s.end_time, s.finished,
		       s.track, s.vehicle_model, s.vehicle_class, s.setup, s.content_hash,
		       s.imported_at, s.updated_at,
		       (SELECT COUNT(*) FROM participants p WHERE p.session_id = s.id),
		       (SELECT COUNT(*) FROM stage_results r JOIN stages st ON r.stage_id = st.id
		        WHERE st.session_id = s.id)
		FROM sessions s
		WHERE s.server_id = ?`

	if filter.HasResults {
		query += `
		AND EXISTS (SELECT 1 FROM stage_results r JOIN stages st ON r.stage_id = st.id
		            WHERE st.session_id = s.id)`
	}

	query += `
		ORDER BY s.start_time DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, serverID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.SessionSummary, 0)
	for rows.Next() {
		var sum domain.SessionSummary
		var endTime sql.NullTime
		var setup sql.NullString
		if err := rows.Scan(&sum.ID, &sum.ServerID, &sum.SessionIndex, &sum.StartTime,
			&endTime, &sum.Finished, &sum.Track, &sum.VehicleModel, &sum.VehicleClass,
			&setup, &sum.ContentHash, &sum.ImportedAt, &sum.UpdatedAt,
			&sum.ParticipantCount, &sum.ResultCount); err != nil {
			return nil, err
		}
		sum.EndTime = scanNullTime(endTime)
		sum.Setup = scanNullStringValue(setup)
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// GetSessionStages returns the stages of a session
func (s *Store) GetSessionStages(ctx context.Context, sessionID int64) ([]domain.Stage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, name, start_time, end_time
		FROM stages WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []domain.Stage
	for rows.Next() {
		var st domain.Stage
		var start, end sql.NullTime
		if err := rows.Scan(&st.ID, &st.SessionID, &st.Name, &start, &end); err != nil {
			return nil, err
		}
		st.StartTime = scanNullTime(start)
		st.EndTime = scanNullTime(end)
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// GetStageResults returns the ranked results of one named stage of a
// session. An absent stage yields an empty slice, not an error.
func (s *Store) GetStageResults(ctx context.Context, sessionID int64, stageName string) ([]domain.StageResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.stage_id, r.position, r.player_id, r.steam_id, r.name,
		       r.laps_completed, r.fastest_lap_ms, r.total_time_ms, r.state, r.is_manual
		FROM stage_results r
		JOIN stages st ON r.stage_id = st.id
		WHERE st.session_id = ? AND st.name = ?
		ORDER BY r.position
	`, sessionID, stageName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.StageResult, 0)
	for rows.Next() {
		r, err := scanStageResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// GetSessionParticipants returns the roster of a session
func (s *Store) GetSessionParticipants(ctx context.Context, sessionID int64) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, idx, player_id, steam_id, name, vehicle, livery, ref_id, is_player
		FROM participants WHERE session_id = ? ORDER BY idx
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		var playerID sql.NullInt64
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Index, &playerID, &p.SteamID,
			&p.Name, &p.Vehicle, &p.Livery, &p.RefID, &p.IsPlayer); err != nil {
			return nil, err
		}
		p.PlayerID = scanNullInt64Ptr(playerID)
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// GetSessionMembers returns the join/leave records of a session
func (s *Store) GetSessionMembers(ctx context.Context, sessionID int64) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, ref_id, player_id, steam_id, name, joined_at, left_at
		FROM members WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		var playerID sql.NullInt64
		var joined, left sql.NullTime
		if err := rows.Scan(&m.ID, &m.SessionID, &m.RefID, &playerID, &m.SteamID,
			&m.Name, &joined, &left); err != nil {
			return nil, err
		}
		m.PlayerID = scanNullInt64Ptr(playerID)
		m.JoinedAt = scanNullTime(joined)
		m.LeftAt = scanNullTime(left)
		members = append(members, m)
	}
	return members, rows.Err()
}
