// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db persists the local tunnel session history. One row per run:
// what was tunneled, through which bastion, on which port, and when it
// ended. The store is strictly best-effort bookkeeping for the `history`
// subcommand; a failure here must never abort a tunnel.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Session statuses recorded in the history.
const (
	StatusOpen        = "open"
	StatusClosed      = "closed"
	StatusInterrupted = "interrupted"
)

// sqlOpenFunc allows tests to override database opening behavior.
var sqlOpenFunc = sql.Open

// TunnelSessionModel maps the `tunnel_sessions` table for Bun queries.
type TunnelSessionModel struct {
	bun.BaseModel `bun:"table:tunnel_sessions"`
	ID            int64      `bun:"id,pk,autoincrement"`
	DBIdentifier  string     `bun:"db_identifier"`
	JumpHost      string     `bun:"jump_host"`
	InstanceID    string     `bun:"instance_id"`
	LocalPort     int        `bun:"local_port"`
	Status        string     `bun:"status"`
	StartedAt     time.Time  `bun:"started_at"`
	EndedAt       *time.Time `bun:"ended_at,nullzero"`
}

// HistoryStore is the sqlite-backed session history.
type HistoryStore struct {
	db  *sql.DB
	bun *bun.DB
}

// OpenHistory opens (and if necessary creates) the history database at dsn.
func OpenHistory(dsn string) (*HistoryStore, error) {
	sqlDB, err := sqlOpenFunc("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	bdb := bun.NewDB(sqlDB, sqlitedialect.New())
	ctx := context.Background()
	if _, err := bdb.NewCreateTable().Model((*TunnelSessionModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tunnel_sessions table: %w", err)
	}

	return &HistoryStore{db: sqlDB, bun: bdb}, nil
}

// Close releases the underlying database handle.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// RecordStart inserts a new open session row and returns its id.
func (s *HistoryStore) RecordStart(ctx context.Context, dbIdentifier, jumpHost, instanceID string, localPort int, startedAt time.Time) (int64, error) {
	m := &TunnelSessionModel{
		DBIdentifier: dbIdentifier,
		JumpHost:     jumpHost,
		InstanceID:   instanceID,
		LocalPort:    localPort,
		Status:       StatusOpen,
		StartedAt:    startedAt,
	}
	if _, err := s.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record session start: %w", err)
	}
	return m.ID, nil
}

// RecordEnd closes a session row with the final status and end time.
func (s *HistoryStore) RecordEnd(ctx context.Context, id int64, status string, endedAt time.Time) error {
	_, err := s.bun.NewUpdate().
		Model((*TunnelSessionModel)(nil)).
		Set("status = ?", status).
		Set("ended_at = ?", endedAt).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]TunnelSessionModel, error) {
	var sessions []TunnelSessionModel
	err := s.bun.NewSelect().
		Model(&sessions).
		Order("started_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	return sessions, nil
}
