package domain

import "time"

// Server represents a racing server whose snapshots are being imported
type Server struct {
	ID               int64      `json:"id"`
	Identifier       string     `json:"identifier"`
	Name             string     `json:"name"`
	FilePath         string     `json:"file_path,omitempty"`
	NextHistoryIndex int64      `json:"next_history_index"`
	LastImportAt     *time.Time `json:"last_import_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ServerSummary represents a server with derived counts for display
type ServerSummary struct {
	Server
	SessionCount int64 `json:"session_count"`
	PlayerCount  int64 `json:"player_count"`
}

// ImportLogEntry is an append-only audit record for one import attempt
type ImportLogEntry struct {
	ID             int64     `json:"id"`
	UUID           string    `json:"uuid"`
	ServerID       int64     `json:"server_id"`
	FilePath       string    `json:"file_path"`
	FileSize       int64     `json:"file_size"`
	SessionsInFile int       `json:"sessions_in_file"`
	Imported       int       `json:"imported"`
	Updated        int       `json:"updated"`
	Skipped        int       `json:"skipped"`
	Status         string    `json:"status"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Import log status values
const (
	ImportStatusSuccess = "success"
	ImportStatusPartial = "partial"
	ImportStatusError   = "error"
)
