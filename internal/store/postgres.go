package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store is the PostgreSQL implementation of schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

// Open connects to databaseURL, verifies the connection and ensures the schema exists.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(pool, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool.
func New(pool DBPool, logger *zap.Logger) *Store {
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS agent_sessions (
    id              TEXT PRIMARY KEY,
    workspace_id    TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    objective       TEXT NOT NULL,
    start_url       TEXT NOT NULL DEFAULT '',
    mode            TEXT NOT NULL,
    status          TEXT NOT NULL,
    current_url     TEXT NOT NULL DEFAULT '',
    current_task_id TEXT NOT NULL DEFAULT '',
    turn            INTEGER NOT NULL DEFAULT 0,
    max_turns       INTEGER NOT NULL,
    error           TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL,
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS agent_tasks (
    id               TEXT PRIMARY KEY,
    session_id       TEXT NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
    position         INTEGER NOT NULL,
    description      TEXT NOT NULL,
    expected_outcome TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    actions          JSONB NOT NULL DEFAULT '[]',
    results          JSONB NOT NULL DEFAULT '[]',
    extracted_data   JSONB,
    updated_at       TIMESTAMPTZ NOT NULL,
    UNIQUE (session_id, position)
);
CREATE TABLE IF NOT EXISTS agent_logs (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
    level      TEXT NOT NULL,
    message    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_screenshots (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
    task_id     TEXT NOT NULL DEFAULT '',
    action_id   TEXT NOT NULL DEFAULT '',
    image_data  TEXT NOT NULL,
    page_url    TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS agent_logs_session_idx ON agent_logs (session_id, created_at);
CREATE INDEX IF NOT EXISTS agent_screenshots_session_idx ON agent_screenshots (session_id, created_at);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const sqlInsertSession = `
        INSERT INTO agent_sessions (id, workspace_id, user_id, objective, start_url, mode, status, current_url,
            current_task_id, turn, max_turns, error, created_at, started_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
    `

func (s *Store) CreateSession(ctx context.Context, session *schemas.AgentSession) error {
	_, err := s.pool.Exec(ctx, sqlInsertSession,
		session.ID, session.WorkspaceID, session.UserID, session.Objective, session.StartURL,
		string(session.Mode), string(session.Status), session.CurrentURL, session.CurrentTaskID,
		session.Turn, session.MaxTurns, session.Error,
		session.CreatedAt.UTC(), utcPtr(session.StartedAt), utcPtr(session.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	return nil
}

const sqlUpdateSession = `
        UPDATE agent_sessions SET
            status = $2, current_url = $3, current_task_id = $4, turn = $5, error = $6,
            started_at = $7, completed_at = $8
        WHERE id = $1;
    `

func (s *Store) UpdateSession(ctx context.Context, session *schemas.AgentSession) error {
	tag, err := s.pool.Exec(ctx, sqlUpdateSession,
		session.ID, string(session.Status), session.CurrentURL, session.CurrentTaskID,
		session.Turn, session.Error, utcPtr(session.StartedAt), utcPtr(session.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, session.ID)
	}
	return nil
}

const sqlSelectSession = `
        SELECT id, workspace_id, user_id, objective, start_url, mode, status, current_url, current_task_id,
            turn, max_turns, error, created_at, started_at, completed_at
        FROM agent_sessions
        WHERE id = $1;
    `

func (s *Store) GetSession(ctx context.Context, id string) (*schemas.AgentSession, error) {
	var session schemas.AgentSession
	var mode, status string
	err := s.pool.QueryRow(ctx, sqlSelectSession, id).Scan(
		&session.ID, &session.WorkspaceID, &session.UserID, &session.Objective, &session.StartURL,
		&mode, &status, &session.CurrentURL, &session.CurrentTaskID,
		&session.Turn, &session.MaxTurns, &session.Error,
		&session.CreatedAt, &session.StartedAt, &session.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	session.Mode = schemas.AgentMode(mode)
	session.Status = schemas.SessionStatus(status)
	return &session, nil
}

const sqlUpsertTask = `
        INSERT INTO agent_tasks (id, session_id, position, description, expected_outcome, status, actions, results,
            extracted_data, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (session_id, position) DO UPDATE SET
            status = EXCLUDED.status,
            actions = EXCLUDED.actions,
            results = EXCLUDED.results,
            extracted_data = EXCLUDED.extracted_data,
            updated_at = EXCLUDED.updated_at;
    `

// SaveTasks upserts all tasks of a session in one transaction.
func (s *Store) SaveTasks(ctx context.Context, sessionID string, tasks []schemas.AgentTask) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := s.upsertTasks(ctx, tx, sessionID, tasks); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) upsertTasks(ctx context.Context, tx pgx.Tx, sessionID string, tasks []schemas.AgentTask) error {
	now := time.Now().UTC()
	for _, t := range tasks {
		actions, err := jsonColumn(t.Actions, "[]")
		if err != nil {
			return fmt.Errorf("failed to encode actions of task %s: %w", t.ID, err)
		}
		results, err := jsonColumn(t.Results, "[]")
		if err != nil {
			return fmt.Errorf("failed to encode results of task %s: %w", t.ID, err)
		}
		var extracted []byte
		if len(t.ExtractedData) > 0 {
			if extracted, err = json.Marshal(t.ExtractedData); err != nil {
				return fmt.Errorf("failed to encode extracted data of task %s: %w", t.ID, err)
			}
		}

		_, err = tx.Exec(ctx, sqlUpsertTask,
			t.ID, sessionID, t.Position, t.Description, t.ExpectedOutcome, string(t.Status),
			actions, results, extracted, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert task %s (position %d): %w", t.ID, t.Position, err)
		}
	}
	return nil
}

const sqlInsertLog = `
        INSERT INTO agent_logs (session_id, level, message, created_at)
        VALUES ($1, $2, $3, $4);
    `

func (s *Store) AppendLog(ctx context.Context, sessionID string, entry schemas.LogEntry) error {
	_, err := s.pool.Exec(ctx, sqlInsertLog, sessionID, string(entry.Level), entry.Message, entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append log for session %s: %w", sessionID, err)
	}
	return nil
}

const sqlInsertScreenshot = `
        INSERT INTO agent_screenshots (id, session_id, task_id, action_id, image_data, page_url, description, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `

func (s *Store) SaveScreenshot(ctx context.Context, shot *schemas.AgentScreenshot) error {
	_, err := s.pool.Exec(ctx, sqlInsertScreenshot,
		shot.ID, shot.SessionID, shot.TaskID, shot.ActionID, shot.ImageData, shot.PageURL, shot.Description,
		shot.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save screenshot %s: %w", shot.ID, err)
	}
	return nil
}

const sqlSelectLogs = `
        SELECT level, message, created_at
        FROM agent_logs
        WHERE session_id = $1
        ORDER BY id ASC;
    `

// Logs returns the persisted log of a session in append order.
func (s *Store) Logs(ctx context.Context, sessionID string) ([]schemas.LogEntry, error) {
	rows, err := s.pool.Query(ctx, sqlSelectLogs, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []schemas.LogEntry
	for rows.Next() {
		var e schemas.LogEntry
		var level string
		if err := rows.Scan(&level, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		e.Level = schemas.LogLevel(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func jsonColumn(v any, empty string) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(out) == "null" {
		return []byte(empty), nil
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
