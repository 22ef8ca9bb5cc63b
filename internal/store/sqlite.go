package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shiguredo/media-processors/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Run operations ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	state := run.State
	if state == "" {
		state = model.RunStatePlaying
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, repeat, state, loops, decoded, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.SessionID), run.Repeat, string(state), run.Loops, run.Decoded,
		run.StartedAt.UTC().Format(time.RFC3339Nano), formatTimePtr(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	run.State = state
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, repeat, state, loops, decoded, started_at, ended_at
		 FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the runs of one session, newest first. An empty session
// lists runs of every session.
func (s *SQLiteStore) ListRuns(ctx context.Context, session model.SessionID, query model.RunQuery) ([]*model.Run, int, error) {
	query = query.Normalize()
	s.logger.Debug("sql", "op", "list", "table", "runs", "session_id", session, "limit", query.Limit, "offset", query.Offset)

	var whereClauses []string
	var args []any
	if session != "" {
		whereClauses = append(whereClauses, "session_id = ?")
		args = append(args, string(session))
	}
	if query.State != "" {
		whereClauses = append(whereClauses, "state = ?")
		args = append(args, string(query.State))
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT id, session_id, repeat, state, loops, decoded, started_at, ended_at
		FROM runs` + whereSQL + ` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, listQuery, append(args, query.Limit, query.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID)

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state=?, loops=?, decoded=?, ended_at=? WHERE id=?`,
		string(run.State), run.Loops, run.Decoded, formatTimePtr(run.EndedAt), run.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// --- Event operations ---

// AppendEvent inserts ev and sets its ID.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *model.Event) error {
	s.logger.Debug("sql", "op", "insert", "table", "events", "run_id", ev.RunID, "type", ev.Type)

	detail := ev.Detail
	if detail == nil {
		detail = map[string]string{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, session_id, type, detail, at) VALUES (?, ?, ?, ?, ?)`,
		ev.RunID, string(ev.SessionID), string(ev.Type), string(detailJSON),
		ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = id
	return nil
}

// ListEvents returns the events of a run in insertion order.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]model.Event, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, session_id, type, detail, at FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var sessionID, typ, detailJSON, at string
		if err := rows.Scan(&ev.ID, &ev.RunID, &sessionID, &typ, &detailJSON, &at); err != nil {
			return nil, err
		}
		ev.SessionID = model.SessionID(sessionID)
		ev.Type = model.EventType(typ)
		json.Unmarshal([]byte(detailJSON), &ev.Detail)
		if len(ev.Detail) == 0 {
			ev.Detail = nil
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var sessionID, state, startedAt string
	var endedAt *string

	if err := row.Scan(&run.ID, &sessionID, &run.Repeat, &state, &run.Loops, &run.Decoded,
		&startedAt, &endedAt); err != nil {
		return nil, err
	}

	run.SessionID = model.SessionID(sessionID)
	run.State = model.RunState(state)
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *endedAt)
		run.EndedAt = &t
	}
	return &run, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
