package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/raceledger/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullInt64Ptr(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

// nullTimestamp formats an optional time for storage
func nullTimestamp(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanServer scans a server row
func scanServer(s scanner) (*domain.Server, error) {
	var srv domain.Server
	var filePath sql.NullString
	var lastImportAt sql.NullTime
	err := s.Scan(&srv.ID, &srv.Identifier, &srv.Name, &filePath,
		&srv.NextHistoryIndex, &lastImportAt, &srv.CreatedAt)
	if err != nil {
		return nil, err
	}
	srv.FilePath = scanNullStringValue(filePath)
	srv.LastImportAt = scanNullTime(lastImportAt)
	return &srv, nil
}

// scanSession scans a session row
func scanSession(s scanner) (*domain.Session, error) {
	var sess domain.Session
	var endTime sql.NullTime
	var setup sql.NullString
	err := s.Scan(&sess.ID, &sess.ServerID, &sess.SessionIndex, &sess.StartTime,
		&endTime, &sess.Finished, &sess.Track, &sess.VehicleModel,
		&sess.VehicleClass, &setup, &sess.ContentHash, &sess.ImportedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.EndTime = scanNullTime(endTime)
	sess.Setup = scanNullStringValue(setup)
	return &sess, nil
}

// scanStageResult scans a stage result row
func scanStageResult(s scanner) (*domain.StageResult, error) {
	var r domain.StageResult
	var playerID sql.NullInt64
	err := s.Scan(&r.ID, &r.StageID, &r.Position, &playerID, &r.SteamID,
		&r.Name, &r.LapsDone, &r.FastestLapMs, &r.TotalTimeMs, &r.State, &r.IsManual)
	if err != nil {
		return nil, err
	}
	r.PlayerID = scanNullInt64Ptr(playerID)
	return &r, nil
}
