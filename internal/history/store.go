// Package history persists the event stream to SQLite: session
// lifecycles, sent messages, and aggregated packet batches. Everything
// here is best-effort bookkeeping for the API's history endpoints; a
// history failure never reaches the session or capture paths.
package history

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"firestige.xyz/textcast/internal/log"
)

const (
	defaultQueryLimit = 20
	maxQueryLimit     = 100
	defaultPoolSize   = 4
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	device_name TEXT NOT NULL,
	device_addr TEXT NOT NULL,
	state       TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER,
	end_reason  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	text       TEXT NOT NULL,
	delivered  INTEGER NOT NULL,
	latency_ms REAL NOT NULL,
	sent_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_sent ON messages(sent_at);

CREATE TABLE IF NOT EXISTS packet_batches (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT,
	packet_count  INTEGER NOT NULL,
	byte_count    INTEGER NOT NULL,
	total_packets INTEGER NOT NULL,
	total_bytes   INTEGER NOT NULL,
	recorded_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batches_session ON packet_batches(session_id);
`

// Config holds the parameters for opening the history store.
type Config struct {
	// Path is the database file; ":memory:" works for tests with
	// PoolSize 1, since each in-memory connection is independent.
	Path     string
	PoolSize int
}

// Store is the SQLite-backed history. Safe for concurrent use; each
// call takes its own pooled connection.
type Store struct {
	pool *sqlitex.Pool
	path string
}

// Message is one stored send attempt.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Delivered bool      `json:"delivered"`
	LatencyMS float64   `json:"latency_ms"`
	SentAt    time.Time `json:"sent_at"`
}

// SessionRecord is one stored session lifecycle.
type SessionRecord struct {
	ID         string     `json:"id"`
	DeviceName string     `json:"device_name"`
	DeviceAddr string     `json:"device_addr"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	EndReason  string     `json:"end_reason,omitempty"`
}

// PacketRollup sums the stored packet batches.
type PacketRollup struct {
	Batches int64  `json:"batches"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// Open creates the pool and the schema. The caller must Close.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history: path is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", cfg.Path, err)
	}

	// Connections initialize lazily; touch one so a broken path or
	// schema fails at startup instead of on the first write.
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: prepare %s: %w", cfg.Path, err)
	}
	pool.Put(conn)

	log.GetLogger().Infof("history store opened at %s", cfg.Path)
	return &Store{pool: pool, path: cfg.Path}, nil
}

// prepareConn applies the pragmas and the schema, once per pooled
// connection.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("history: %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// Close closes the pool, blocking until borrowed connections return.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("history: close %s: %w", s.path, err)
	}
	return nil
}

// RecordSessionState upserts the session row for a lifecycle event.
// Terminal states stamp ended_at; events without a session id are
// ignored.
func (s *Store) RecordSessionState(ctx context.Context, sessionID, state, deviceName, deviceAddr, reason string, at time.Time) error {
	if sessionID == "" {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: record session: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO sessions (id, device_name, device_addr, state, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, deviceName, deviceAddr, state, at.UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("history: record session %s: %w", sessionID, err)
	}

	if state == "idle" || state == "failed" {
		err = sqlitex.Execute(conn, `UPDATE sessions SET ended_at = ?, end_reason = ? WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{at.UnixMilli(), reason, sessionID},
			})
		if err != nil {
			return fmt.Errorf("history: close session %s: %w", sessionID, err)
		}
	}
	return nil
}

// RecordMessage stores one send attempt.
func (s *Store) RecordMessage(ctx context.Context, sessionID, text string, delivered bool, latencyMS float64, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: record message: %w", err)
	}
	defer s.pool.Put(conn)

	deliveredInt := 0
	if delivered {
		deliveredInt = 1
	}
	err = sqlitex.Execute(conn, `INSERT INTO messages (session_id, text, delivered, latency_ms, sent_at)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, text, deliveredInt, latencyMS, at.UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("history: record message: %w", err)
	}
	return nil
}

// RecordPacketBatch stores one aggregated batch together with the
// running totals at publish time.
func (s *Store) RecordPacketBatch(ctx context.Context, sessionID string, packetCount int, byteCount, totalPackets, totalBytes uint64, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: record batch: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO packet_batches (session_id, packet_count, byte_count, total_packets, total_bytes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, packetCount, int64(byteCount), int64(totalPackets), int64(totalBytes), at.UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("history: record batch: %w", err)
	}
	return nil
}

// RecentMessages returns the newest messages first. The limit is
// clamped to 1..100, defaulting to 20.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: recent messages: %w", err)
	}
	defer s.pool.Put(conn)

	var messages []Message
	err = sqlitex.Execute(conn, `SELECT id, session_id, text, delivered, latency_ms, sent_at
		FROM messages ORDER BY sent_at DESC, id DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{clampLimit(limit)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				messages = append(messages, Message{
					ID:        stmt.ColumnInt64(0),
					SessionID: stmt.ColumnText(1),
					Text:      stmt.ColumnText(2),
					Delivered: stmt.ColumnInt(3) != 0,
					LatencyMS: stmt.ColumnFloat(4),
					SentAt:    time.UnixMilli(stmt.ColumnInt64(5)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: recent messages: %w", err)
	}
	return messages, nil
}

// RecentSessions returns the newest sessions first, limit clamped like
// RecentMessages.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: recent sessions: %w", err)
	}
	defer s.pool.Put(conn)

	var sessions []SessionRecord
	err = sqlitex.Execute(conn, `SELECT id, device_name, device_addr, state, started_at, ended_at, end_reason
		FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{clampLimit(limit)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec := SessionRecord{
					ID:         stmt.ColumnText(0),
					DeviceName: stmt.ColumnText(1),
					DeviceAddr: stmt.ColumnText(2),
					State:      stmt.ColumnText(3),
					StartedAt:  time.UnixMilli(stmt.ColumnInt64(4)),
					EndReason:  stmt.ColumnText(6),
				}
				if !stmt.ColumnIsNull(5) {
					ended := time.UnixMilli(stmt.ColumnInt64(5))
					rec.EndedAt = &ended
				}
				sessions = append(sessions, rec)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: recent sessions: %w", err)
	}
	return sessions, nil
}

// PacketTotals sums the stored batches, for one session or, with an
// empty id, across all of them.
func (s *Store) PacketTotals(ctx context.Context, sessionID string) (PacketRollup, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return PacketRollup{}, fmt.Errorf("history: packet totals: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT COUNT(*), COALESCE(SUM(packet_count), 0), COALESCE(SUM(byte_count), 0) FROM packet_batches`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}

	var rollup PacketRollup
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rollup.Batches = stmt.ColumnInt64(0)
			rollup.Packets = uint64(stmt.ColumnInt64(1))
			rollup.Bytes = uint64(stmt.ColumnInt64(2))
			return nil
		},
	})
	if err != nil {
		return PacketRollup{}, fmt.Errorf("history: packet totals: %w", err)
	}
	return rollup, nil
}

// clampLimit bounds a caller-supplied row limit to 1..100, with 20 as
// the default for zero or negative values.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultQueryLimit
	case limit > maxQueryLimit:
		return maxQueryLimit
	}
	return limit
}
