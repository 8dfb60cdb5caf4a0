// Package postgres stores engine events and blackboard snapshots in
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID    int64                  `json:"event_id"`
	Timestamp  time.Time              `json:"ts"`
	Level      string                 `json:"level"`
	Event      string                 `json:"event"`
	Message    *string                `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	InstanceID string                 `json:"instance_id"`
}

// Client manages the Postgres connection for event and blackboard storage.
type Client struct {
	db         *sql.DB
	instanceID string
}

// DSNFromEnv builds a connection string from the PG* environment variables.
func DSNFromEnv() string {
	return DSN(os.Getenv("PGPASSWORD"))
}

// DSN builds a connection string from the PG* environment variables with an
// already resolved password.
func DSN(password string) string {
	parts := []string{
		"host=" + getEnv("PGHOST", "127.0.0.1"),
		"port=" + getEnv("PGPORT", "5432"),
		"user=" + getEnv("PGUSER", "sentient"),
	}
	if password != "" {
		parts = append(parts, "password="+password)
	}
	parts = append(parts,
		"dbname="+getEnv("PGDATABASE", "sentient"),
		"sslmode="+getEnv("PGSSLMODE", "disable"),
	)
	return strings.Join(parts, " ")
}

// New connects with DSNFromEnv.
func New(ctx context.Context, instanceID string) (*Client, error) {
	return Open(ctx, DSNFromEnv(), instanceID)
}

// Open connects to dsn, verifies the connection and creates the tables.
// instanceID tags every event row.
func Open(ctx context.Context, dsn, instanceID string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:         db,
		instanceID: instanceID,
	}

	if err := client.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return client, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			event_id    BIGSERIAL PRIMARY KEY,
			ts          TIMESTAMPTZ NOT NULL,
			level       TEXT NOT NULL,
			event       TEXT NOT NULL,
			msg         TEXT,
			fields      JSONB,
			instance_id TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_instance_id ON events(instance_id);

		CREATE TABLE IF NOT EXISTS blackboard_snapshots (
			scope    TEXT PRIMARY KEY,
			saved_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS blackboard_entries (
			scope    TEXT NOT NULL REFERENCES blackboard_snapshots(scope) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			key      TEXT NOT NULL,
			type     TEXT NOT NULL,
			value    JSONB NOT NULL,
			PRIMARY KEY (scope, key)
		);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Append inserts an event into the database. It implements events.Sink.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, instance_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = c.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, c.instanceID)
	return err
}

// Query returns the last N events from the database in descending order by timestamp.
func (c *Client) Query(ctx context.Context, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, ts, level, event, msg, fields, instance_id
		FROM events
		WHERE instance_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, c.instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.InstanceID); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// SaveEntries replaces the snapshot stored for scope in one transaction. It
// implements blackboard.Store.
func (c *Client) SaveEntries(ctx context.Context, scope string, entries []blackboard.Entry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO blackboard_snapshots (scope, saved_at) VALUES ($1, $2)
		ON CONFLICT (scope) DO UPDATE SET saved_at = EXCLUDED.saved_at
	`, scope, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blackboard_entries WHERE scope = $1`, scope); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO blackboard_entries (scope, position, key, type, value)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, scope, i, e.Key, e.Type, []byte(e.Value)); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// LoadEntries returns the snapshot for scope in insertion order, or
// blackboard.ErrNoSnapshot.
func (c *Client) LoadEntries(ctx context.Context, scope string) ([]blackboard.Entry, error) {
	var savedAt time.Time
	err := c.db.QueryRowContext(ctx, `SELECT saved_at FROM blackboard_snapshots WHERE scope = $1`, scope).Scan(&savedAt)
	if err == sql.ErrNoRows {
		return nil, blackboard.ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT key, type, value FROM blackboard_entries
		WHERE scope = $1
		ORDER BY position
	`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []blackboard.Entry{}
	for rows.Next() {
		var e blackboard.Entry
		var value []byte
		if err := rows.Scan(&e.Key, &e.Type, &value); err != nil {
			return nil, err
		}
		e.Value = json.RawMessage(value)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping reports whether the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
