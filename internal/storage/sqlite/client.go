package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/storage/models"
	"github.com/opencoding/backend/pkg/logger"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrWriteFailed = errors.New("write affected no rows")
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS traces (
		trace_id TEXT PRIMARY KEY,
		flow_session TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		total_turns INTEGER NOT NULL,
		user_message TEXT NOT NULL,
		ai_response TEXT NOT NULL,
		metadata TEXT,
		imported_at INTEGER NOT NULL,
		imported_by TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_traces_session ON traces(flow_session);
	CREATE INDEX IF NOT EXISTS idx_traces_imported_by ON traces(imported_by);
	CREATE INDEX IF NOT EXISTS idx_traces_imported_at ON traces(imported_at);

	CREATE TABLE IF NOT EXISTS annotations (
		id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		holistic_pass_fail TEXT NOT NULL,
		first_failure_note TEXT NOT NULL DEFAULT '',
		open_codes TEXT NOT NULL DEFAULT '',
		comments_hypotheses TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE(trace_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_annotations_user ON annotations(user_id);
	CREATE INDEX IF NOT EXISTS idx_annotations_created ON annotations(created_at);
	CREATE INDEX IF NOT EXISTS idx_annotations_rating ON annotations(holistic_pass_fail);

	CREATE TABLE IF NOT EXISTS users (
		provider_id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertTrace(t *models.Trace) error {
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO traces (trace_id, flow_session, turn_number, total_turns, user_message, ai_response, metadata, imported_at, imported_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(
		query,
		t.TraceID,
		t.FlowSession,
		t.TurnNumber,
		t.TotalTurns,
		t.UserMessage,
		t.AIResponse,
		string(metadataJSON),
		t.ImportedAt.Unix(),
		t.ImportedBy,
	)

	if err != nil {
		return fmt.Errorf("failed to insert trace: %w", err)
	}

	logger.Debug("Trace inserted", zap.String("trace_id", t.TraceID), zap.String("flow_session", t.FlowSession))
	return nil
}

func (c *Client) TraceExists(traceID string) (bool, error) {
	var one int
	err := c.db.QueryRow(`SELECT 1 FROM traces WHERE trace_id = ?`, traceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check trace existence: %w", err)
	}
	return true, nil
}

func (c *Client) CountTraces() (int, error) {
	var total int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM traces`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count traces: %w", err)
	}
	return total, nil
}

// ListTraces returns one page under the review order: newest sessions
// first, turns within a session in chronological order.
func (c *Client) ListTraces(offset, limit int) ([]models.Trace, error) {
	query := `
		SELECT trace_id, flow_session, turn_number, total_turns, user_message, ai_response, metadata, imported_at, imported_by
		FROM traces
		ORDER BY flow_session DESC, turn_number ASC
		LIMIT ? OFFSET ?
	`

	rows, err := c.db.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	defer rows.Close()

	var traces []models.Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, *t)
	}

	return traces, rows.Err()
}

func (c *Client) GetTrace(traceID string) (*models.TraceWithContext, error) {
	query := `
		SELECT trace_id, flow_session, turn_number, total_turns, user_message, ai_response, metadata, imported_at, imported_by
		FROM traces
		WHERE trace_id = ?
	`

	row := c.db.QueryRow(query, traceID)
	t, err := scanTrace(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	out := &models.TraceWithContext{Trace: *t, Context: []models.ContextTurn{}}

	ctxQuery := `
		SELECT turn_number, user_message, ai_response
		FROM traces
		WHERE flow_session = ? AND turn_number < ?
		ORDER BY turn_number ASC
	`

	rows, err := c.db.Query(ctxQuery, t.FlowSession, t.TurnNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get trace context: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ct models.ContextTurn
		if err := rows.Scan(&ct.TurnNumber, &ct.UserMessage, &ct.AIResponse); err != nil {
			return nil, fmt.Errorf("failed to scan context turn: %w", err)
		}
		out.Context = append(out.Context, ct)
	}

	return out, rows.Err()
}

// AdjacentTraces resolves the neighbours of traceID under the listing
// order. A record precedes another iff its flow_session sorts higher, or
// the sessions match and its turn_number is lower.
func (c *Client) AdjacentTraces(traceID string) (*models.AdjacentTraces, error) {
	var fs string
	var tn int
	err := c.db.QueryRow(`SELECT flow_session, turn_number FROM traces WHERE trace_id = ?`, traceID).Scan(&fs, &tn)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trace position: %w", err)
	}

	out := &models.AdjacentTraces{}

	prevQuery := `
		SELECT trace_id FROM traces
		WHERE flow_session > ? OR (flow_session = ? AND turn_number < ?)
		ORDER BY flow_session ASC, turn_number DESC
		LIMIT 1
	`
	var prev string
	err = c.db.QueryRow(prevQuery, fs, fs, tn).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get previous trace: %w", err)
	}
	if err == nil {
		out.Previous = &prev
	}

	nextQuery := `
		SELECT trace_id FROM traces
		WHERE flow_session < ? OR (flow_session = ? AND turn_number > ?)
		ORDER BY flow_session DESC, turn_number ASC
		LIMIT 1
	`
	var next string
	err = c.db.QueryRow(nextQuery, fs, fs, tn).Scan(&next)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get next trace: %w", err)
	}
	if err == nil {
		out.Next = &next
	}

	return out, nil
}

// NextUnannotated returns the first trace in the listing order with no
// annotation by userID, or "" when every trace has one. The subquery
// excludes the user's full annotated set, not just the latest record.
func (c *Client) NextUnannotated(userID string) (string, error) {
	query := `
		SELECT trace_id FROM traces
		WHERE trace_id NOT IN (SELECT trace_id FROM annotations WHERE user_id = ?)
		ORDER BY flow_session DESC, turn_number ASC
		LIMIT 1
	`

	var traceID string
	err := c.db.QueryRow(query, userID).Scan(&traceID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find next unannotated trace: %w", err)
	}
	return traceID, nil
}

// UpsertAnnotation writes a as the single annotation for its
// (trace_id, user_id) pair in one conditional statement: insert at
// version 1, or replace every submitted field while bumping version and
// keeping the original id and created_at. Returns true when a new record
// was created.
func (c *Client) UpsertAnnotation(a *models.Annotation) (bool, error) {
	query := `
		INSERT INTO annotations (id, trace_id, user_id, holistic_pass_fail, first_failure_note, open_codes, comments_hypotheses, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(trace_id, user_id) DO UPDATE SET
			holistic_pass_fail = excluded.holistic_pass_fail,
			first_failure_note = excluded.first_failure_note,
			open_codes = excluded.open_codes,
			comments_hypotheses = excluded.comments_hypotheses,
			updated_at = excluded.updated_at,
			version = annotations.version + 1
		RETURNING id, created_at, version
	`

	var createdAt int64
	err := c.db.QueryRow(
		query,
		a.ID,
		a.TraceID,
		a.UserID,
		a.HolisticPassFail,
		a.FirstFailureNote,
		a.OpenCodes,
		a.CommentsHypotheses,
		a.CreatedAt.Unix(),
		a.UpdatedAt.Unix(),
	).Scan(&a.ID, &createdAt, &a.Version)

	if err == sql.ErrNoRows {
		return false, ErrWriteFailed
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert annotation: %w", err)
	}

	a.CreatedAt = time.Unix(createdAt, 0)

	logger.Info("Annotation saved",
		zap.String("trace_id", a.TraceID),
		zap.String("user_id", a.UserID),
		zap.String("rating", a.HolisticPassFail),
		zap.Int("version", a.Version),
	)

	return a.Version == 1, nil
}

func (c *Client) GetAnnotation(traceID, userID string) (*models.Annotation, error) {
	query := `
		SELECT id, trace_id, user_id, holistic_pass_fail, first_failure_note, open_codes, comments_hypotheses, created_at, updated_at, version
		FROM annotations
		WHERE trace_id = ? AND user_id = ?
	`

	var a models.Annotation
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, traceID, userID).Scan(
		&a.ID,
		&a.TraceID,
		&a.UserID,
		&a.HolisticPassFail,
		&a.FirstFailureNote,
		&a.OpenCodes,
		&a.CommentsHypotheses,
		&createdAt,
		&updatedAt,
		&a.Version,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}

	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

func (c *Client) UserStats(userID string) (*models.UserStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN holistic_pass_fail = 'Pass' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN holistic_pass_fail = 'Fail' THEN 1 ELSE 0 END), 0)
		FROM annotations
		WHERE user_id = ?
	`

	stats := &models.UserStats{Recent: []models.RecentAnnotation{}}
	err := c.db.QueryRow(query, userID).Scan(&stats.TotalAnnotations, &stats.PassCount, &stats.FailCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count annotations: %w", err)
	}

	if stats.TotalAnnotations > 0 {
		rate := float64(stats.PassCount) / float64(stats.TotalAnnotations) * 100
		stats.PassRate = math.Round(rate*100) / 100
	}

	recentQuery := `
		SELECT id, trace_id, holistic_pass_fail, updated_at
		FROM annotations
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT 5
	`

	rows, err := c.db.Query(recentQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent annotations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.RecentAnnotation
		var updatedAt int64
		if err := rows.Scan(&r.ID, &r.TraceID, &r.HolisticPassFail, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recent annotation: %w", err)
		}
		r.UpdatedAt = time.Unix(updatedAt, 0)
		stats.Recent = append(stats.Recent, r)
	}

	return stats, rows.Err()
}

// UpsertUser creates or refreshes the local mirror of a provider account.
// created_at is set only on first insert; every call touches updated_at.
func (c *Client) UpsertUser(u *models.User) error {
	query := `
		INSERT INTO users (provider_id, email, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(query, u.ProviderID, u.Email, u.Name, u.CreatedAt.Unix(), u.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	logger.Debug("User synced", zap.String("provider_id", u.ProviderID))
	return nil
}

func (c *Client) GetUser(providerID string) (*models.User, error) {
	query := `SELECT provider_id, email, name, created_at, updated_at FROM users WHERE provider_id = ?`

	var u models.User
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, providerID).Scan(&u.ProviderID, &u.Email, &u.Name, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.CreatedAt = time.Unix(createdAt, 0)
	u.UpdatedAt = time.Unix(updatedAt, 0)
	return &u, nil
}

// DeleteUser removes the mirror record. Deleting an unknown id is not an
// error; provider delete events can arrive more than once.
func (c *Client) DeleteUser(providerID string) error {
	_, err := c.db.Exec(`DELETE FROM users WHERE provider_id = ?`, providerID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// ClearAll wipes every table. Only the administrative cleardb command
// calls this; the API surface never deletes traces.
func (c *Client) ClearAll() error {
	for _, table := range []string{"annotations", "traces", "users"} {
		if _, err := c.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrace(row rowScanner) (*models.Trace, error) {
	var t models.Trace
	var metadataJSON sql.NullString
	var importedAt int64

	err := row.Scan(
		&t.TraceID,
		&t.FlowSession,
		&t.TurnNumber,
		&t.TotalTurns,
		&t.UserMessage,
		&t.AIResponse,
		&metadataJSON,
		&importedAt,
		&t.ImportedBy,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trace: %w", err)
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	t.ImportedAt = time.Unix(importedAt, 0)

	return &t, nil
}
