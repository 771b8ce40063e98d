package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DefaultTable is the table PostgresSink writes to.
const DefaultTable = "activity_events"

// PostgresSink stores events as jsonb rows, one transaction per hour.
type PostgresSink struct {
	db       *sql.DB
	table    string
	location *time.Location
	logger   zerolog.Logger
}

// NewPostgresSink opens dsn and creates the table if needed.
func NewPostgresSink(ctx context.Context, dsn, table string, logger zerolog.Logger) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgresSinkWithDB(db, table, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSinkWithDB creates a sink over an open database.
func NewPostgresSinkWithDB(db *sql.DB, table string, logger zerolog.Logger) *PostgresSink {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresSink{
		db:       db,
		table:    table,
		location: time.UTC,
		logger:   logger.With().Str("component", "postgres-sink").Str("table", table).Logger(),
	}
}

// EnsureSchema creates the events table and its index.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	table := pq.QuoteIdentifier(s.table)
	index := pq.QuoteIdentifier(s.table + "_window_idx")

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id           BIGSERIAL PRIMARY KEY,
			destination  TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			event_time   TIMESTAMPTZ,
			payload      JSONB NOT NULL,
			inserted_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (destination, window_start)`, index, table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Write implements EventSink using COPY inside a transaction.
func (s *PostgresSink) Write(ctx context.Context, dest Destination, events []json.RawMessage) (err error) {
	if len(events) == 0 {
		return nil
	}
	defer func() { record("postgres", len(events), err) }()

	err = s.execTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn(s.table, "destination", "window_start", "event_time", "payload"))
		if err != nil {
			return fmt.Errorf("prepare copy: %w", err)
		}

		for _, raw := range events {
			var eventTime interface{}
			if t, ok := EventTime(raw, s.location); ok {
				eventTime = t
			}
			if _, err := stmt.ExecContext(ctx, dest.Name, dest.Hour.Start, eventTime, string(raw)); err != nil {
				stmt.Close()
				return fmt.Errorf("copy row: %w", err)
			}
		}

		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flush copy: %w", err)
		}
		return stmt.Close()
	})
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("destination", dest.Name).
		Time("window_start", dest.Hour.Start).
		Int("events", len(events)).
		Msg("Inserted events")
	return nil
}

func (s *PostgresSink) execTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Count returns the number of stored events of a destination.
func (s *PostgresSink) Count(ctx context.Context, destination string) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE destination = $1`, pq.QuoteIdentifier(s.table))
	if err := s.db.QueryRowContext(ctx, query, destination).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
