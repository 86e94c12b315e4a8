// Package importer classifies snapshot sessions against prior imports,
// performs the transactional multi-table writes, resolves player identity,
// and records the audit trail.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/ernie/raceledger/internal/domain"
	"github.com/ernie/raceledger/internal/snapshot"
	"github.com/ernie/raceledger/internal/storage"
	"github.com/google/uuid"
)

// ServerRef identifies the import target. Identifier may be empty, in
// which case it is derived from the snapshot's own server name.
type ServerRef struct {
	Identifier string
	Name       string
	FilePath   string
	FileSize   int64
}

// SessionError records one session's failed insert/update
type SessionError struct {
	SessionIndex int64  `json:"session_index"`
	Message      string `json:"error"`
}

// ImportResult summarizes one import call
type ImportResult struct {
	ServerID       int64          `json:"server_id"`
	ServerName     string         `json:"server_name"`
	SessionsInFile int            `json:"sessions_in_file"`
	Imported       int            `json:"imported"`
	Updated        int            `json:"updated"`
	Skipped        int            `json:"skipped"`
	Errors         []SessionError `json:"errors,omitempty"`
}

// Status maps the counts to the audit-log status: success (no errors),
// partial (some sessions landed despite errors), error (nothing landed and
// at least one error)
func (r *ImportResult) Status() string {
	if len(r.Errors) == 0 {
		return domain.ImportStatusSuccess
	}
	if r.Imported > 0 || r.Updated > 0 {
		return domain.ImportStatusPartial
	}
	return domain.ImportStatusError
}

// Engine imports snapshots into the store. It is designed for a
// single-writer model: callers must serialize imports per server, though
// imports against different servers are independent.
type Engine struct {
	store *storage.Store
}

// New creates an import engine over the given store
func New(store *storage.Store) *Engine {
	return &Engine{store: store}
}

// ImportFile imports one snapshot against the referenced server. Each
// session is processed independently: a failure on one is recorded in the
// result's Errors and processing continues. Failures outside the
// per-session loop (server resolution, aggregate sync, audit write) are
// fatal to the whole call.
//
// Aggregates are overwritten from the snapshot's cumulative counters, so
// callers must supply snapshots in non-decreasing recency order; importing
// a stale snapshot after a newer one regresses counters.
func (e *Engine) ImportFile(ctx context.Context, ref ServerRef, snap *snapshot.Snapshot) (*ImportResult, error) {
	srv, err := e.resolveServer(ctx, ref, snap)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		ServerID:       srv.ID,
		ServerName:     srv.Name,
		SessionsInFile: len(snap.Stats.History),
	}

	for i := range snap.Stats.History {
		sess := &snap.Stats.History[i]
		action, err := e.importSession(ctx, srv.ID, sess)
		if err != nil {
			log.Printf("Import: session %d on %s failed: %v", sess.Index, srv.Identifier, err)
			result.Errors = append(result.Errors, SessionError{
				SessionIndex: sess.Index,
				Message:      err.Error(),
			})
			continue
		}
		switch action {
		case actionInsert:
			result.Imported++
		case actionUpdate:
			result.Updated++
		case actionSkip:
			result.Skipped++
		}
	}

	if err := e.syncAggregates(ctx, srv.ID, snap); err != nil {
		return nil, fmt.Errorf("syncing player aggregates: %w", err)
	}

	if err := e.store.UpdateServerImportState(ctx, srv.ID, snap.NextHistoryIndex, time.Now()); err != nil {
		return nil, fmt.Errorf("updating server import state: %w", err)
	}

	if err := e.writeAuditEntry(ctx, srv.ID, ref, result); err != nil {
		return nil, fmt.Errorf("writing import log: %w", err)
	}

	return result, nil
}

type sessionAction int

const (
	actionInsert sessionAction = iota
	actionUpdate
	actionSkip
)

// importSession classifies one session as insert/update/skip and performs
// the corresponding transactional write
func (e *Engine) importSession(ctx context.Context, serverID int64, sess *snapshot.Session) (sessionAction, error) {
	hash := ContentHash(sess)

	existing, err := e.store.GetSessionByIndex(ctx, serverID, sess.Index)
	if err != nil {
		return 0, fmt.Errorf("looking up session: %w", err)
	}
	if existing != nil && existing.ContentHash == hash {
		return actionSkip, nil
	}

	row, participants, members, stages, err := e.buildSessionTree(ctx, serverID, sess, hash)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		if err := e.store.CreateSessionTree(ctx, row, participants, members, stages); err != nil {
			return 0, classifyWriteError(err)
		}
		return actionInsert, nil
	}
	if err := e.store.ReplaceSessionTree(ctx, existing.ID, row, participants, members, stages); err != nil {
		return 0, classifyWriteError(err)
	}
	return actionUpdate, nil
}

// classifyWriteError labels unique-key failures (duplicate stage names in
// one session, or a concurrent import racing the same index) so they read
// clearly in the recorded session errors. The transaction has already
// rolled back; the failure is reported, never absorbed.
func classifyWriteError(err error) error {
	if storage.IsConstraintViolation(err) {
		return fmt.Errorf("conflicting unique key: %w", err)
	}
	return err
}

// buildSessionTree converts a snapshot session into store rows, upserting
// player identities along the way
func (e *Engine) buildSessionTree(ctx context.Context, serverID int64, sess *snapshot.Session, hash string) (
	*domain.Session, []domain.Participant, []domain.Member, []domain.StageWithResults, error) {

	observedAt := epochOrZero(sess.End)
	if observedAt.IsZero() {
		observedAt = time.Unix(sess.Start, 0)
	}

	// Resolve player identities first so child rows can reference them.
	// Entries with an empty id or name stay unresolved.
	playerIDs := make(map[string]int64)
	resolve := func(steamID, name string, at time.Time) (*int64, error) {
		if steamID == "" || name == "" {
			return nil, nil
		}
		if id, ok := playerIDs[steamID]; ok {
			return &id, nil
		}
		player, err := e.store.UpsertPlayer(ctx, steamID, name, at)
		if err != nil {
			return nil, fmt.Errorf("resolving player %s: %w", steamID, err)
		}
		playerIDs[steamID] = player.ID
		return &player.ID, nil
	}

	participants := make([]domain.Participant, 0, len(sess.Participants))
	for _, p := range sess.SessionParticipants() {
		playerID, err := resolve(p.SteamID, p.Name, observedAt)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		participants = append(participants, domain.Participant{
			Index:    p.Index,
			PlayerID: playerID,
			SteamID:  p.SteamID,
			Name:     p.Name,
			Vehicle:  p.Vehicle,
			Livery:   p.Livery,
			RefID:    p.RefID,
			IsPlayer: p.IsPlayer,
		})
	}

	members := make([]domain.Member, 0, len(sess.Members))
	for _, m := range sess.Members {
		at := observedAt
		if m.Joined > 0 {
			at = time.Unix(m.Joined, 0)
		}
		playerID, err := resolve(m.SteamID, m.Name, at)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		members = append(members, domain.Member{
			RefID:    m.RefID,
			PlayerID: playerID,
			SteamID:  m.SteamID,
			Name:     m.Name,
			JoinedAt: epochPtr(m.Joined),
			LeftAt:   epochPtr(m.Left),
		})
	}

	stages := make([]domain.StageWithResults, 0, len(sess.Stages))
	for _, st := range sess.Stages {
		sw := domain.StageWithResults{
			Stage: domain.Stage{
				Name:      st.Name,
				StartTime: epochPtr(st.Start),
				EndTime:   epochPtr(st.End),
			},
		}

		parsed, _ := sess.ParsedStageResults(st.Name)
		for _, pr := range parsed {
			row := domain.StageResult{
				Position:     pr.Position,
				Name:         pr.Name,
				LapsDone:     pr.Laps,
				FastestLapMs: pr.FastestLapMs,
				TotalTimeMs:  pr.TotalTimeMs,
				State:        pr.State,
			}
			if pr.Identity != nil {
				row.SteamID = pr.Identity.SteamID
				row.Name = pr.Identity.Name
				playerID, err := resolve(pr.Identity.SteamID, pr.Identity.Name, observedAt)
				if err != nil {
					return nil, nil, nil, nil, err
				}
				row.PlayerID = playerID
			}
			sw.Results = append(sw.Results, row)
		}
		stages = append(stages, sw)
	}

	row := &domain.Session{
		ServerID:     serverID,
		SessionIndex: sess.Index,
		StartTime:    time.Unix(sess.Start, 0),
		EndTime:      epochPtr(sess.End),
		Finished:     sess.Finished,
		Track:        sess.Track,
		VehicleModel: sess.VehicleModel,
		VehicleClass: sess.VehicleClass,
		Setup:        string(sess.Setup),
		ContentHash:  hash,
	}
	return row, participants, members, stages, nil
}

// resolveServer upserts the target server row. Explicit identifier wins;
// otherwise it is derived from the snapshot's server name.
func (e *Engine) resolveServer(ctx context.Context, ref ServerRef, snap *snapshot.Snapshot) (*domain.Server, error) {
	identifier := ref.Identifier
	if identifier == "" {
		identifier = DeriveIdentifier(snap.Stats.Server.Name)
	}
	if identifier == "" {
		return nil, fmt.Errorf("cannot resolve server: no identifier and snapshot has no server name")
	}

	name := ref.Name
	if name == "" {
		name = snap.Stats.Server.Name
	}
	if name == "" {
		name = identifier
	}

	srv := &domain.Server{
		Identifier: identifier,
		Name:       name,
		FilePath:   ref.FilePath,
	}
	if err := e.store.UpsertServer(ctx, srv); err != nil {
		return nil, fmt.Errorf("resolving server %q: %w", identifier, err)
	}
	return srv, nil
}

// syncAggregates overwrites every known player's per-server counters and
// distances from the snapshot's cumulative values
func (e *Engine) syncAggregates(ctx context.Context, serverID int64, snap *snapshot.Snapshot) error {
	for steamID, counters := range snap.Stats.Players {
		if steamID == "" || counters.Name == "" {
			continue
		}

		// A zero last_joined gives a zero observation time, which never
		// wins the monotonic name comparison; a fabricated "now" would
		// let a stale snapshot entry rename the player.
		observedAt := epochOrZero(counters.LastJoined)
		player, err := e.store.UpsertPlayer(ctx, steamID, counters.Name, observedAt)
		if err != nil {
			return err
		}

		stats := &domain.PlayerServerStats{
			PlayerID:     player.ID,
			ServerID:     serverID,
			JoinCount:    counters.JoinCount,
			FinishCount:  counters.FinishCount,
			LoadCount:    counters.LoadCount,
			LastJoinedAt: epochPtr(counters.LastJoined),
		}
		if err := e.store.ReplacePlayerServerStats(ctx, stats); err != nil {
			return err
		}

		for track, raw := range counters.Distances {
			err := e.store.ReplacePlayerDistance(ctx, &domain.PlayerDistance{
				PlayerID:       player.ID,
				ServerID:       serverID,
				Track:          track,
				DistanceMeters: snapshot.ParseDistance(raw),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// writeAuditEntry appends the import-log record for this attempt
func (e *Engine) writeAuditEntry(ctx context.Context, serverID int64, ref ServerRef, result *ImportResult) error {
	entry := &domain.ImportLogEntry{
		UUID:           uuid.NewString(),
		ServerID:       serverID,
		FilePath:       ref.FilePath,
		FileSize:       ref.FileSize,
		SessionsInFile: result.SessionsInFile,
		Imported:       result.Imported,
		Updated:        result.Updated,
		Skipped:        result.Skipped,
		Status:         result.Status(),
	}
	if len(result.Errors) > 0 {
		detail, err := json.Marshal(result.Errors)
		if err != nil {
			return fmt.Errorf("serializing session errors: %w", err)
		}
		entry.ErrorDetail = string(detail)
	}
	return e.store.CreateImportLogEntry(ctx, entry)
}

var identifierSeparators = regexp.MustCompile(`[\s_]+`)

// DeriveIdentifier turns a server display name into a stable identifier
func DeriveIdentifier(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return identifierSeparators.ReplaceAllString(name, "-")
}

// epochPtr converts a unix-seconds epoch to a time pointer, nil for zero
func epochPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// epochOrZero converts a unix-seconds epoch to a time, zero value for zero
func epochOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
