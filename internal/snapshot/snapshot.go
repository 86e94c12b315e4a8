// Package snapshot parses the racing server's JSON telemetry dumps into a
// stable object model. The raw format has known producer quirks: comment
// lines, collections encoded as either arrays or keyed maps, and counters
// that overflowed a 32-bit signed integer on the wire.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrMalformed indicates the snapshot text is not well-formed structured data
var ErrMalformed = errors.New("malformed snapshot")

// Snapshot is one full telemetry dump: cumulative counters plus session
// history up to a point in time
type Snapshot struct {
	NextHistoryIndex int64 `json:"next_history_index"`
	Stats            Stats `json:"stats"`
}

// Stats holds the snapshot payload
type Stats struct {
	Server  ServerInfo                `json:"server"`
	Players map[string]PlayerCounters `json:"players"`
	Session SessionStats              `json:"session"`
	History []Session                 `json:"history"`
}

// ServerInfo is the producing server's own metadata
type ServerInfo struct {
	Name          string `json:"name"`
	UptimeMs      int64  `json:"uptime_ms"`
	TotalUptimeMs int64  `json:"total_uptime_ms"`
}

// PlayerCounters are the snapshot's cumulative per-player counters, keyed by
// steam id at the top level. Distances are raw odometer values in
// millimeters and may appear negative due to 32-bit overflow.
type PlayerCounters struct {
	Name        string           `json:"name"`
	JoinCount   int64            `json:"join_count"`
	FinishCount int64            `json:"finish_count"`
	LoadCount   int64            `json:"load_count"`
	LastJoined  int64            `json:"last_joined"`
	Distances   map[string]int64 `json:"distances"`
}

// SessionStats carries track/vehicle usage aggregates
type SessionStats struct {
	Counts UsageCounts `json:"counts"`
}

// UsageCounts maps track and vehicle ids to usage counts
type UsageCounts struct {
	Tracks   map[string]int64 `json:"tracks"`
	Vehicles map[string]int64 `json:"vehicles"`
}

// Session is one entry of the snapshot's session history
type Session struct {
	Index        int64           `json:"index"`
	Start        int64           `json:"start"`
	End          int64           `json:"end"`
	Finished     bool            `json:"finished"`
	Track        string          `json:"track"`
	VehicleModel int64           `json:"vehicle_model"`
	VehicleClass int64           `json:"vehicle_class"`
	Setup        json.RawMessage `json:"setup,omitempty"`
	Participants ParticipantList `json:"participants"`
	Members      []Member        `json:"members"`
	Stages       StageList       `json:"stages"`
}

// Participant is one roster entry of a session
type Participant struct {
	Index    int    `json:"index"`
	SteamID  string `json:"steam_id"`
	Name     string `json:"name"`
	Vehicle  int64  `json:"vehicle"`
	Livery   int64  `json:"livery"`
	RefID    int64  `json:"ref_id"`
	IsPlayer bool   `json:"is_player"`
}

// Member is one join/leave record of a session. A player who rejoins
// appears multiple times with distinct ref ids.
type Member struct {
	RefID   int64  `json:"ref_id"`
	SteamID string `json:"steam_id"`
	Name    string `json:"name"`
	Joined  int64  `json:"joined"`
	Left    int64  `json:"left"`
}

// Stage is a named phase of a session
type Stage struct {
	Name    string     `json:"-"`
	Start   int64      `json:"start"`
	End     int64      `json:"end"`
	Results ResultList `json:"results"`
}

// Result is one raw ranked entry of a stage. Identity may be carried
// directly, via a participant index, or only via a member ref id.
type Result struct {
	Position         int    `json:"position"`
	ParticipantIndex *int   `json:"participant,omitempty"`
	RefID            int64  `json:"ref_id"`
	Name             string `json:"name,omitempty"`
	Laps             int    `json:"laps"`
	FastestLapMs     int64  `json:"fastest_lap_ms"`
	TotalTimeMs      int64  `json:"total_time_ms"`
	State            string `json:"state"`
}

// Parse decodes snapshot text. Lines beginning with // are stripped before
// structural parsing; the source format tolerates human-authored comments.
func Parse(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(stripComments(data), &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &snap, nil
}

// ReadFile reads and parses a snapshot file, transparently decompressing
// gzipped dumps
func ReadFile(path string) (*Snapshot, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("reading snapshot file: %w", err)
	}
	size := int64(len(data))

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, size, fmt.Errorf("%w: opening gzip stream: %v", ErrMalformed, err)
		}
		defer gz.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(gz); err != nil {
			return nil, size, fmt.Errorf("%w: decompressing: %v", ErrMalformed, err)
		}
		data = buf.Bytes()
	}

	snap, err := Parse(data)
	if err != nil {
		return nil, size, err
	}
	return snap, size, nil
}

// stripComments removes lines whose first non-space characters are //
func stripComments(data []byte) []byte {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("//")) {
			continue
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	if scanner.Err() != nil {
		// A line longer than the buffer; fall back to the raw input and
		// let the JSON decoder report the real problem.
		return data
	}
	return out.Bytes()
}
