package domain

import "time"

// Player represents a driver identified by their steam id across rejoins and renames
type Player struct {
	ID        int64     `json:"id"`
	SteamID   string    `json:"steam_id"`
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// PlayerServerStats holds cumulative per-server counters for a player.
// The snapshot is authoritative: rows are overwritten on import, never incremented.
type PlayerServerStats struct {
	ID           int64      `json:"id"`
	PlayerID     int64      `json:"player_id"`
	ServerID     int64      `json:"server_id"`
	JoinCount    int64      `json:"join_count"`
	FinishCount  int64      `json:"finish_count"`
	LoadCount    int64      `json:"load_count"`
	LastJoinedAt *time.Time `json:"last_joined_at,omitempty"`
}

// PlayerDistance holds cumulative driven distance per (player, server, track)
type PlayerDistance struct {
	ID             int64   `json:"id"`
	PlayerID       int64   `json:"player_id"`
	ServerID       int64   `json:"server_id"`
	Track          string  `json:"track"`
	DistanceMeters float64 `json:"distance_meters"`
}

// PlayerResult is a stage result joined with its session and stage context,
// used for a player's result history
type PlayerResult struct {
	SessionID    int64     `json:"session_id"`
	SessionIndex int64     `json:"session_index"`
	ServerID     int64     `json:"server_id"`
	StageName    string    `json:"stage_name"`
	Track        string    `json:"track"`
	StartTime    time.Time `json:"start_time"`
	Position     int       `json:"position"`
	State        string    `json:"state"`
	LapsDone     int       `json:"laps_completed"`
	FastestLapMs int64     `json:"fastest_lap_ms"`
	TotalTimeMs  int64     `json:"total_time_ms"`
}

// BestLap is a player's minimum positive lap time on one track
type BestLap struct {
	Track        string `json:"track"`
	FastestLapMs int64  `json:"fastest_lap_ms"`
	SessionID    int64  `json:"session_id"`
	StageName    string `json:"stage_name"`
}
