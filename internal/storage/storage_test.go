package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ernie/raceledger/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func timePtr(t time.Time) *time.Time { return &t }

// seedSession inserts a server and one session with a race stage holding
// two results, returning the server and session ids
func seedSession(t *testing.T, store *Store, identifier string, index int64) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	srv := &domain.Server{Identifier: identifier, Name: identifier}
	if err := store.UpsertServer(ctx, srv); err != nil {
		t.Fatalf("UpsertServer() error = %v", err)
	}

	start := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	sess := &domain.Session{
		ServerID:     srv.ID,
		SessionIndex: index,
		StartTime:    start,
		EndTime:      &end,
		Finished:     true,
		Track:        "forest",
		ContentHash:  "hash-" + identifier,
	}
	err := store.CreateSessionTree(ctx, sess,
		[]domain.Participant{
			{Index: 0, SteamID: "steam-a", Name: "Alice"},
			{Index: 1, SteamID: "steam-b", Name: "Bob"},
		},
		[]domain.Member{
			{RefID: 101, SteamID: "steam-a", Name: "Alice"},
		},
		[]domain.StageWithResults{
			{
				Stage: domain.Stage{Name: "race1", StartTime: &start, EndTime: &end},
				Results: []domain.StageResult{
					{Position: 1, SteamID: "steam-a", Name: "Alice", LapsDone: 12, FastestLapMs: 83123, TotalTimeMs: 1422000, State: "finished"},
					{Position: 2, SteamID: "steam-b", Name: "Bob", LapsDone: 12, FastestLapMs: 84250, TotalTimeMs: 1431000, State: "finished"},
				},
			},
		})
	if err != nil {
		t.Fatalf("CreateSessionTree() error = %v", err)
	}
	return srv.ID, sess.ID
}

func TestSchemaVersion(t *testing.T) {
	store := newTestStore(t)
	v, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != schemaVersion {
		t.Errorf("SchemaVersion() = %d, want %d", v, schemaVersion)
	}
}

func TestUpsertServer_NoDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := &domain.Server{Identifier: "main", Name: "Old Name"}
	if err := store.UpsertServer(ctx, a); err != nil {
		t.Fatalf("UpsertServer() error = %v", err)
	}
	b := &domain.Server{Identifier: "main", Name: "New Name", FilePath: "/srv/stats.json"}
	if err := store.UpsertServer(ctx, b); err != nil {
		t.Fatalf("UpsertServer() second call error = %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("second upsert created new id %d, want %d", b.ID, a.ID)
	}

	servers, err := store.GetServers(ctx)
	if err != nil {
		t.Fatalf("GetServers() error = %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("len(servers) = %d, want 1", len(servers))
	}
	if servers[0].Name != "New Name" {
		t.Errorf("server name = %q, want %q", servers[0].Name, "New Name")
	}
}

func TestUpsertPlayer_NameMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(-time.Hour) // earlier observation arriving later

	if _, err := store.UpsertPlayer(ctx, "steam-a", "A", t1); err != nil {
		t.Fatalf("UpsertPlayer() error = %v", err)
	}
	if _, err := store.UpsertPlayer(ctx, "steam-a", "B", t2); err != nil {
		t.Fatalf("UpsertPlayer() second call error = %v", err)
	}

	p, err := store.GetPlayerBySteamID(ctx, "steam-a")
	if err != nil {
		t.Fatalf("GetPlayerBySteamID() error = %v", err)
	}
	// Later-in-epoch wins, not later-in-call-order
	if p.Name != "A" {
		t.Errorf("player name = %q, want %q", p.Name, "A")
	}
	if !p.LastSeen.Equal(t1) {
		t.Errorf("last seen = %v, want %v", p.LastSeen, t1)
	}

	// A strictly newer observation does rename
	t3 := t1.Add(time.Hour)
	if _, err := store.UpsertPlayer(ctx, "steam-a", "C", t3); err != nil {
		t.Fatalf("UpsertPlayer() third call error = %v", err)
	}
	p, _ = store.GetPlayerBySteamID(ctx, "steam-a")
	if p.Name != "C" {
		t.Errorf("player name after newer observation = %q, want %q", p.Name, "C")
	}
}

func TestReplacePlayerServerStats_Overwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	srv := &domain.Server{Identifier: "main", Name: "Main"}
	if err := store.UpsertServer(ctx, srv); err != nil {
		t.Fatalf("UpsertServer() error = %v", err)
	}
	player, err := store.UpsertPlayer(ctx, "steam-a", "Alice", time.Now())
	if err != nil {
		t.Fatalf("UpsertPlayer() error = %v", err)
	}

	for _, joins := range []int64{5, 3} { // second write is authoritative, even if lower
		err := store.ReplacePlayerServerStats(ctx, &domain.PlayerServerStats{
			PlayerID: player.ID, ServerID: srv.ID, JoinCount: joins,
		})
		if err != nil {
			t.Fatalf("ReplacePlayerServerStats() error = %v", err)
		}
	}

	stats, err := store.GetPlayerServerStats(ctx, player.ID)
	if err != nil {
		t.Fatalf("GetPlayerServerStats() error = %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("len(stats) = %d, want 1", len(stats))
	}
	if stats[0].JoinCount != 3 {
		t.Errorf("JoinCount = %d, want 3", stats[0].JoinCount)
	}
}

func TestGetSessions_HasResultsFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	serverID, _ := seedSession(t, store, "main", 5)

	// A second session with a stage but no results
	empty := &domain.Session{
		ServerID:     serverID,
		SessionIndex: 6,
		StartTime:    time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC),
		ContentHash:  "hash-empty",
	}
	err := store.CreateSessionTree(ctx, empty, nil, nil, []domain.StageWithResults{
		{Stage: domain.Stage{Name: "practice"}},
	})
	if err != nil {
		t.Fatalf("CreateSessionTree() error = %v", err)
	}

	all, err := store.GetSessions(ctx, serverID, SessionFilter{})
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	// Ordered by start time descending
	if all[0].SessionIndex != 6 {
		t.Errorf("first session index = %d, want 6", all[0].SessionIndex)
	}

	withResults, err := store.GetSessions(ctx, serverID, SessionFilter{HasResults: true})
	if err != nil {
		t.Fatalf("GetSessions(HasResults) error = %v", err)
	}
	if len(withResults) != 1 {
		t.Fatalf("len(withResults) = %d, want 1", len(withResults))
	}
	if withResults[0].SessionIndex != 5 {
		t.Errorf("filtered session index = %d, want 5", withResults[0].SessionIndex)
	}
	if withResults[0].ResultCount != 2 {
		t.Errorf("ResultCount = %d, want 2", withResults[0].ResultCount)
	}

	page, err := store.GetSessions(ctx, serverID, SessionFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("GetSessions(paged) error = %v", err)
	}
	if len(page) != 1 || page[0].SessionIndex != 5 {
		t.Errorf("page = %+v, want single session with index 5", page)
	}
}

func TestGetSessions_EmptyStore(t *testing.T) {
	store := newTestStore(t)
	sessions, err := store.GetSessions(context.Background(), 42, SessionFilter{})
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("len(sessions) = %d, want 0", len(sessions))
	}
}

func TestReplaceSessionTree_ReplacesChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, sessionID := seedSession(t, store, "main", 5)

	sess, err := store.GetSessionByID(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSessionByID() error = %v", err)
	}
	sess.ContentHash = "hash-v2"
	err = store.ReplaceSessionTree(ctx, sessionID, sess,
		[]domain.Participant{{Index: 0, SteamID: "steam-a", Name: "Alice"}},
		nil,
		[]domain.StageWithResults{
			{
				Stage: domain.Stage{Name: "race1"},
				Results: []domain.StageResult{
					{Position: 1, SteamID: "steam-a", Name: "Alice", FastestLapMs: 82000, State: "finished"},
				},
			},
		})
	if err != nil {
		t.Fatalf("ReplaceSessionTree() error = %v", err)
	}

	// The replaced set, not an appended superset
	results, err := store.GetStageResults(ctx, sessionID, "race1")
	if err != nil {
		t.Fatalf("GetStageResults() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].FastestLapMs != 82000 {
		t.Errorf("FastestLapMs = %d, want 82000", results[0].FastestLapMs)
	}

	participants, err := store.GetSessionParticipants(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSessionParticipants() error = %v", err)
	}
	if len(participants) != 1 {
		t.Errorf("len(participants) = %d, want 1", len(participants))
	}
	members, err := store.GetSessionMembers(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSessionMembers() error = %v", err)
	}
	if len(members) != 0 {
		t.Errorf("len(members) = %d, want 0", len(members))
	}
}

func TestGetPlayerBestLaps_ExcludesInvalidLaps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	srv := &domain.Server{Identifier: "main", Name: "Main"}
	if err := store.UpsertServer(ctx, srv); err != nil {
		t.Fatalf("UpsertServer() error = %v", err)
	}
	player, err := store.UpsertPlayer(ctx, "steam-a", "Alice", time.Now())
	if err != nil {
		t.Fatalf("UpsertPlayer() error = %v", err)
	}

	mkSession := func(index int64, track string, lapMs int64) {
		sess := &domain.Session{
			ServerID:     srv.ID,
			SessionIndex: index,
			StartTime:    time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC).Add(time.Duration(index) * time.Hour),
			Track:        track,
			ContentHash:  "h",
		}
		err := store.CreateSessionTree(ctx, sess, nil, nil, []domain.StageWithResults{
			{
				Stage: domain.Stage{Name: "race1"},
				Results: []domain.StageResult{
					{Position: 1, PlayerID: &player.ID, SteamID: "steam-a", Name: "Alice", FastestLapMs: lapMs},
				},
			},
		})
		if err != nil {
			t.Fatalf("CreateSessionTree(%d) error = %v", index, err)
		}
	}

	mkSession(1, "forest", 85000)
	mkSession(2, "forest", 83000)
	mkSession(3, "forest", 0) // no valid lap, must not win the minimum
	mkSession(4, "speedway", 41000)

	laps, err := store.GetPlayerBestLaps(ctx, player.ID, nil)
	if err != nil {
		t.Fatalf("GetPlayerBestLaps() error = %v", err)
	}
	if len(laps) != 2 {
		t.Fatalf("len(laps) = %d, want 2", len(laps))
	}
	if laps[0].Track != "forest" || laps[0].FastestLapMs != 83000 {
		t.Errorf("laps[0] = %+v, want forest/83000", laps[0])
	}
	if laps[1].Track != "speedway" || laps[1].FastestLapMs != 41000 {
		t.Errorf("laps[1] = %+v, want speedway/41000", laps[1])
	}
}

func TestManualResult_InsertAndProtectedDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, sessionID := seedSession(t, store, "main", 5)

	row, err := store.InsertManualResult(ctx, ManualResult{
		SessionID:     sessionID,
		StageName:     "race1",
		Name:          "Walk-in Driver",
		Position:      3,
		State:         "finished",
		LapsCompleted: 11,
		TotalTime:     1500000,
	})
	if err != nil {
		t.Fatalf("InsertManualResult() error = %v", err)
	}
	if !row.IsManual {
		t.Error("inserted row IsManual = false, want true")
	}

	results, err := store.GetStageResults(ctx, sessionID, "race1")
	if err != nil {
		t.Fatalf("GetStageResults() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}

	// Deleting a parsed row is refused and leaves it intact
	var parsedID int64
	for _, r := range results {
		if !r.IsManual {
			parsedID = r.ID
			break
		}
	}
	err = store.DeleteManualResult(ctx, parsedID)
	if !errors.Is(err, ErrNotManualResult) {
		t.Errorf("DeleteManualResult(parsed) error = %v, want ErrNotManualResult", err)
	}
	results, _ = store.GetStageResults(ctx, sessionID, "race1")
	if len(results) != 3 {
		t.Errorf("len(results) after refused delete = %d, want 3", len(results))
	}

	// Deleting the manual row succeeds
	if err := store.DeleteManualResult(ctx, row.ID); err != nil {
		t.Fatalf("DeleteManualResult(manual) error = %v", err)
	}
	results, _ = store.GetStageResults(ctx, sessionID, "race1")
	if len(results) != 2 {
		t.Errorf("len(results) after delete = %d, want 2", len(results))
	}
}

func TestManualResult_UnknownStage(t *testing.T) {
	store := newTestStore(t)
	_, sessionID := seedSession(t, store, "main", 5)

	_, err := store.InsertManualResult(context.Background(), ManualResult{
		SessionID: sessionID,
		StageName: "no-such-stage",
		Name:      "X",
		Position:  1,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("InsertManualResult() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteManualResult_NotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.DeleteManualResult(context.Background(), 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteManualResult() error = %v, want ErrNotFound", err)
	}
}

func TestGetServerSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	serverID, _ := seedSession(t, store, "main", 5)
	player, err := store.UpsertPlayer(ctx, "steam-a", "Alice", time.Now())
	if err != nil {
		t.Fatalf("UpsertPlayer() error = %v", err)
	}
	err = store.ReplacePlayerServerStats(ctx, &domain.PlayerServerStats{
		PlayerID: player.ID, ServerID: serverID, JoinCount: 1,
	})
	if err != nil {
		t.Fatalf("ReplacePlayerServerStats() error = %v", err)
	}

	summary, err := store.GetServerSummary(ctx, serverID)
	if err != nil {
		t.Fatalf("GetServerSummary() error = %v", err)
	}
	if summary.SessionCount != 1 || summary.PlayerCount != 1 {
		t.Errorf("summary counts = %d/%d (sessions/players), want 1/1",
			summary.SessionCount, summary.PlayerCount)
	}

	if _, err := store.GetServerSummary(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetServerSummary(absent) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteServer_Cascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	serverID, sessionID := seedSession(t, store, "main", 5)

	player, err := store.UpsertPlayer(ctx, "steam-a", "Alice", time.Now())
	if err != nil {
		t.Fatalf("UpsertPlayer() error = %v", err)
	}
	err = store.ReplacePlayerServerStats(ctx, &domain.PlayerServerStats{
		PlayerID: player.ID, ServerID: serverID, JoinCount: 4,
		LastJoinedAt: timePtr(time.Now()),
	})
	if err != nil {
		t.Fatalf("ReplacePlayerServerStats() error = %v", err)
	}
	err = store.ReplacePlayerDistance(ctx, &domain.PlayerDistance{
		PlayerID: player.ID, ServerID: serverID, Track: "forest", DistanceMeters: 12500,
	})
	if err != nil {
		t.Fatalf("ReplacePlayerDistance() error = %v", err)
	}
	err = store.CreateImportLogEntry(ctx, &domain.ImportLogEntry{
		UUID: "test-uuid", ServerID: serverID, Status: domain.ImportStatusSuccess,
	})
	if err != nil {
		t.Fatalf("CreateImportLogEntry() error = %v", err)
	}

	if err := store.DeleteServer(ctx, serverID); err != nil {
		t.Fatalf("DeleteServer() error = %v", err)
	}

	sessions, _ := store.GetSessions(ctx, serverID, SessionFilter{})
	if len(sessions) != 0 {
		t.Errorf("sessions after delete = %d, want 0", len(sessions))
	}
	results, _ := store.GetStageResults(ctx, sessionID, "race1")
	if len(results) != 0 {
		t.Errorf("stage results after delete = %d, want 0", len(results))
	}
	stats, _ := store.GetPlayerServerStats(ctx, player.ID)
	if len(stats) != 0 {
		t.Errorf("player stats after delete = %d, want 0", len(stats))
	}
	distances, _ := store.GetPlayerDistances(ctx, player.ID)
	if len(distances) != 0 {
		t.Errorf("player distances after delete = %d, want 0", len(distances))
	}
	entries, _ := store.GetImportLog(ctx, serverID, 10)
	if len(entries) != 0 {
		t.Errorf("import log after delete = %d, want 0", len(entries))
	}
	srv, _ := store.GetServerByID(ctx, serverID)
	if srv != nil {
		t.Errorf("server after delete = %+v, want nil", srv)
	}

	// The player identity itself survives server deletion
	p, _ := store.GetPlayerBySteamID(ctx, "steam-a")
	if p == nil {
		t.Error("player row removed by server delete, want kept")
	}
}
