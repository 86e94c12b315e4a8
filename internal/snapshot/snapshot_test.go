package snapshot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

const sampleSnapshot = `
// server telemetry dump
// written by the race server process
{
  "next_history_index": 7,
  "stats": {
    "server": {"name": "Big Rig Raceway", "uptime_ms": 3600000, "total_uptime_ms": 7200000},
    "players": {
      "76561198000000001": {"name": "Alice", "join_count": 4, "finish_count": 3, "load_count": 5, "last_joined": 1710003600, "distances": {"forest": -100}}
    },
    "session": {"counts": {"tracks": {"forest": 3}, "vehicles": {"12": 2}}},
    "history": [
      {
        "index": 5,
        "start": 1710000000, "end": 1710003600, "finished": true,
        "track": "forest", "vehicle_model": 12, "vehicle_class": 3,
        "participants": [
          {"index": 0, "steam_id": "76561198000000001", "name": "Alice", "vehicle": 12, "livery": 1, "ref_id": 101, "is_player": true},
          {"index": 1, "steam_id": "76561198000000002", "name": "Bob", "vehicle": 14, "livery": 2, "ref_id": 102, "is_player": true}
        ],
        "members": [
          {"ref_id": 101, "steam_id": "76561198000000001", "name": "Alice", "joined": 1710000000, "left": 1710003600},
          {"ref_id": 102, "steam_id": "76561198000000002", "name": "Bob", "joined": 1710000100, "left": 1710003600}
        ],
        "stages": {
          "practice": {"start": 1710000000, "end": 1710001000, "results": {}},
          "race1": {"start": 1710001000, "end": 1710003600, "results": [
            {"position": 1, "participant": 0, "ref_id": 101, "laps": 12, "fastest_lap_ms": 83123, "total_time_ms": 1422000, "state": "finished"},
            {"position": 2, "participant": 1, "ref_id": 102, "laps": 12, "fastest_lap_ms": 84000, "total_time_ms": 1431000, "state": "finished"}
          ]}
        }
      }
    ]
  }
}`

func TestParse(t *testing.T) {
	snap, err := Parse([]byte(sampleSnapshot))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if snap.NextHistoryIndex != 7 {
		t.Errorf("NextHistoryIndex = %d, want 7", snap.NextHistoryIndex)
	}
	if snap.Stats.Server.Name != "Big Rig Raceway" {
		t.Errorf("Server.Name = %q, want %q", snap.Stats.Server.Name, "Big Rig Raceway")
	}
	if len(snap.Stats.History) != 1 {
		t.Fatalf("len(History) = %d, want 1", len(snap.Stats.History))
	}

	sess := snap.Stats.History[0]
	if sess.Index != 5 {
		t.Errorf("session Index = %d, want 5", sess.Index)
	}
	if !sess.Finished {
		t.Error("session Finished = false, want true")
	}
	if len(sess.Participants) != 2 {
		t.Errorf("len(Participants) = %d, want 2", len(sess.Participants))
	}
	if len(sess.Members) != 2 {
		t.Errorf("len(Members) = %d, want 2", len(sess.Members))
	}

	counters, ok := snap.Stats.Players["76561198000000001"]
	if !ok {
		t.Fatal("player 76561198000000001 missing from Players map")
	}
	if counters.JoinCount != 4 {
		t.Errorf("JoinCount = %d, want 4", counters.JoinCount)
	}
	if counters.Distances["forest"] != -100 {
		t.Errorf("Distances[forest] = %d, want -100", counters.Distances["forest"])
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"stats": not json`))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Parse() error = %v, want ErrMalformed", err)
	}
}

func TestParse_StageOrderPreserved(t *testing.T) {
	snap, err := Parse([]byte(sampleSnapshot))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	stages := snap.Stats.History[0].Stages
	if len(stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(stages))
	}
	if stages[0].Name != "practice" || stages[1].Name != "race1" {
		t.Errorf("stage order = [%s, %s], want [practice, race1]", stages[0].Name, stages[1].Name)
	}
}

func TestParticipantList_MapEncoding(t *testing.T) {
	raw := `{
		"10": {"steam_id": "s10", "name": "Ten"},
		"2": {"steam_id": "s2", "name": "Two"}
	}`
	var list ParticipantList
	if err := list.UnmarshalJSON([]byte(raw)); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	// Sparse map keys are ordered numerically and become the index
	if list[0].Index != 2 || list[0].Name != "Two" {
		t.Errorf("list[0] = {%d %q}, want {2 Two}", list[0].Index, list[0].Name)
	}
	if list[1].Index != 10 || list[1].Name != "Ten" {
		t.Errorf("list[1] = {%d %q}, want {10 Ten}", list[1].Index, list[1].Name)
	}
}

func TestResultList_EmptyMapEncoding(t *testing.T) {
	var list ResultList
	if err := list.UnmarshalJSON([]byte(`{}`)); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("len = %d, want 0", len(list))
	}
}

func TestReadFile_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(sampleSnapshot)); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	snap, size, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if size != int64(buf.Len()) {
		t.Errorf("size = %d, want %d", size, buf.Len())
	}
	if snap.Stats.Server.Name != "Big Rig Raceway" {
		t.Errorf("Server.Name = %q, want %q", snap.Stats.Server.Name, "Big Rig Raceway")
	}
}
