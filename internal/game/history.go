package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Barraka/room-controller/internal/infrastructure/database"
)

// ErrRecordNotFound indicates no session record exists for the id.
var ErrRecordNotFound = errors.New("game: session record not found")

// History persists completed session records. Append-only: records are
// never mutated after the write.
type History interface {
	Append(ctx context.Context, record *Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Get(ctx context.Context, sessionID string) (*Record, error)
	Stats(ctx context.Context) (HistoryStats, error)
}

// HistoryStats aggregates outcomes across all recorded sessions.
type HistoryStats struct {
	TotalSessions int     `json:"totalSessions"`
	Victories     int     `json:"victories"`
	AvgDurationMs float64 `json:"avgDurationMs"`
	AvgHints      float64 `json:"avgHints"`
}

// defaultHistoryLimit bounds Recent queries with a non-positive limit.
const defaultHistoryLimit = 50

// SQLiteHistory stores session records in the session_history table.
// Scalar columns support aggregate queries; the full record is kept as
// a JSON blob so the wire shape survives round trips unchanged.
type SQLiteHistory struct {
	db     *database.DB
	roomID string
}

// NewSQLiteHistory creates a history store backed by db. The schema
// must already be migrated.
func NewSQLiteHistory(db *database.DB, roomID string) *SQLiteHistory {
	return &SQLiteHistory{db: db, roomID: roomID}
}

// Append writes one completed session record.
func (h *SQLiteHistory) Append(ctx context.Context, record *Record) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO session_history
			(id, room_id, result, started_at, ended_at, total_paused_ms,
			 real_duration_ms, hints_given, comments, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID,
		h.roomID,
		record.Result,
		record.StartedAt,
		record.EndedAt,
		record.TotalPausedMs,
		record.RealDurationMs,
		record.HintsGiven,
		record.Comments,
		string(blob),
	)
	if err != nil {
		return fmt.Errorf("inserting session record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (h *SQLiteHistory) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT record FROM session_history
		WHERE room_id = ?
		ORDER BY started_at DESC
		LIMIT ?`,
		h.roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying session history: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only iteration

	var records []Record
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning session record: %w", err)
		}
		var record Record
		if err := json.Unmarshal([]byte(blob), &record); err != nil {
			return nil, fmt.Errorf("decoding session record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session history: %w", err)
	}
	return records, nil
}

// Get returns a single record by session id.
func (h *SQLiteHistory) Get(ctx context.Context, sessionID string) (*Record, error) {
	var blob string
	err := h.db.QueryRowContext(ctx,
		"SELECT record FROM session_history WHERE id = ? AND room_id = ?",
		sessionID, h.roomID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying session record: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(blob), &record); err != nil {
		return nil, fmt.Errorf("decoding session record: %w", err)
	}
	return &record, nil
}

// Stats aggregates outcomes across the room's recorded sessions.
func (h *SQLiteHistory) Stats(ctx context.Context) (HistoryStats, error) {
	var stats HistoryStats
	err := h.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN result = ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(real_duration_ms), 0),
			COALESCE(AVG(hints_given), 0)
		FROM session_history
		WHERE room_id = ?`,
		ResultVictory, h.roomID,
	).Scan(&stats.TotalSessions, &stats.Victories, &stats.AvgDurationMs, &stats.AvgHints)
	if err != nil {
		return HistoryStats{}, fmt.Errorf("aggregating session history: %w", err)
	}
	return stats, nil
}
