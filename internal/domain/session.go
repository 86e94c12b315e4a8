package domain

import "time"

// Session represents one race event with a server-local sequential index.
// The (server_id, session_index) pair is unique; content may be replaced
// wholesale on update but the index and server never change.
type Session struct {
	ID           int64      `json:"id"`
	ServerID     int64      `json:"server_id"`
	SessionIndex int64      `json:"session_index"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Finished     bool       `json:"finished"`
	Track        string     `json:"track"`
	VehicleModel int64      `json:"vehicle_model"`
	VehicleClass int64      `json:"vehicle_class"`
	Setup        string     `json:"setup,omitempty"` // raw setup blob as stored
	ContentHash  string     `json:"content_hash"`
	ImportedAt   time.Time  `json:"imported_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Participant is a per-session roster entry. Child of Session, fully
// replaced on session update.
type Participant struct {
	ID        int64  `json:"id"`
	SessionID int64  `json:"session_id"`
	Index     int    `json:"index"`
	PlayerID  *int64 `json:"player_id,omitempty"`
	SteamID   string `json:"steam_id,omitempty"`
	Name      string `json:"name"`
	Vehicle   int64  `json:"vehicle"`
	Livery    int64  `json:"livery"`
	RefID     int64  `json:"ref_id"`
	IsPlayer  bool   `json:"is_player"`
}

// Member is a per-session join/leave record, distinct from Participant so
// rejoins can be tracked. Child of Session, fully replaced on update.
type Member struct {
	ID        int64      `json:"id"`
	SessionID int64      `json:"session_id"`
	RefID     int64      `json:"ref_id"`
	PlayerID  *int64     `json:"player_id,omitempty"`
	SteamID   string     `json:"steam_id,omitempty"`
	Name      string     `json:"name"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
}

// Stage is a named phase of a session (practice/qualifying/race).
// Unique per (session, name).
type Stage struct {
	ID        int64      `json:"id"`
	SessionID int64      `json:"session_id"`
	Name      string     `json:"name"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// StageResult is one ranked entry in a stage. Rows belonging to a session
// are always replaced as a complete set on update.
type StageResult struct {
	ID           int64  `json:"id"`
	StageID      int64  `json:"stage_id"`
	Position     int    `json:"position"`
	PlayerID     *int64 `json:"player_id,omitempty"`
	SteamID      string `json:"steam_id,omitempty"`
	Name         string `json:"name"`
	LapsDone     int    `json:"laps_completed"`
	FastestLapMs int64  `json:"fastest_lap_ms"`
	TotalTimeMs  int64  `json:"total_time_ms"`
	State        string `json:"state"`
	IsManual     bool   `json:"is_manual"`
}

// StageWithResults bundles a stage and its complete result set for
// transactional writes and per-session views
type StageWithResults struct {
	Stage   Stage         `json:"stage"`
	Results []StageResult `json:"results"`
}

// SessionSummary is a session row with derived counts for listings
type SessionSummary struct {
	Session
	ParticipantCount int `json:"participant_count"`
	ResultCount      int `json:"result_count"`
}
