// Package state persists sessions, the tenant slot pool and the
// deployment attempt log. Two backends exist: SQLite for single-node
// deployments and Postgres for shared ones. Both enforce the slot
// claim as a conditional update so assignment is atomic regardless of
// backend.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.Store with SQLite storage.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs
// migrations. WAL mode keeps readers unblocked during claim updates.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id core.SessionID) (*core.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, topic, phase, history, requirements, definition, archived, created_at, updated_at
		FROM sessions WHERE id = ?`, string(id))
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("session", string(id))
	}
	return session, err
}

// PutSession inserts or replaces a session.
func (s *SQLiteStore) PutSession(ctx context.Context, session *core.Session) error {
	historyJSON, requirementsJSON, definitionJSON, err := encodeSession(session)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, topic, phase, history, requirements, definition, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			topic = excluded.topic,
			phase = excluded.phase,
			history = excluded.history,
			requirements = excluded.requirements,
			definition = excluded.definition,
			archived = excluded.archived,
			updated_at = excluded.updated_at`,
		string(session.ID), session.TenantID, session.Topic, session.Phase.String(),
		historyJSON, requirementsJSON, nullableString(definitionJSON),
		boolToInt(session.Archived), session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// DeleteSession removes a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id core.SessionID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", string(id))
	return err
}

// ListSessions returns the sessions belonging to a tenant, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, tenantID string) ([]*core.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, topic, phase, history, requirements, definition, archived, created_at, updated_at
		FROM sessions WHERE tenant_id = ? ORDER BY updated_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// SeedSlots pre-populates the pool with unassigned slots. Existing rows
// keep their assignment.
func (s *SQLiteStore) SeedSlots(ctx context.Context, projects, slotsPerProject int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for p := 0; p < projects; p++ {
		for i := 0; i < slotsPerProject; i++ {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tenant_slots (project_index, slot_index, tenant_id)
				VALUES (?, ?, '')
				ON CONFLICT(project_index, slot_index) DO NOTHING`, p, i)
			if err != nil {
				return fmt.Errorf("seeding slot %d/%d: %w", p, i, err)
			}
		}
	}
	return tx.Commit()
}

// ListSlots returns the entire pool ordered by (projectIndex, slotIndex).
func (s *SQLiteStore) ListSlots(ctx context.Context) ([]*core.TenantSlot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_index, slot_index, tenant_id, assigned_at
		FROM tenant_slots ORDER BY project_index, slot_index`)
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var slots []*core.TenantSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// SlotFor returns the slot held by a tenant, or nil if none.
func (s *SQLiteStore) SlotFor(ctx context.Context, tenantID string) (*core.TenantSlot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_index, slot_index, tenant_id, assigned_at
		FROM tenant_slots WHERE tenant_id = ?`, tenantID)
	slot, err := scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return slot, err
}

// ClaimSlot atomically assigns the slot to the tenant if and only if it
// is unassigned. The conditional update is the sole TenantID write path.
func (s *SQLiteStore) ClaimSlot(ctx context.Context, projectIndex, slotIndex int, tenantID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tenant_slots
		SET tenant_id = ?, assigned_at = ?
		WHERE project_index = ? AND slot_index = ? AND tenant_id = ''`,
		tenantID, time.Now(), projectIndex, slotIndex)
	if err != nil {
		return false, fmt.Errorf("claiming slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking claim result: %w", err)
	}
	return affected == 1, nil
}

// ReleaseSlot frees the slot held by a tenant.
func (s *SQLiteStore) ReleaseSlot(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tenant_slots SET tenant_id = '', assigned_at = NULL
		WHERE tenant_id = ?`, tenantID)
	return err
}

// RecordAttempt inserts or updates an attempt record.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a *core.DeploymentAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployment_attempts (id, workflow_name, engine_id, status, classification, diagnostic, attempt_number, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			engine_id = excluded.engine_id,
			status = excluded.status,
			classification = excluded.classification,
			diagnostic = excluded.diagnostic,
			ended_at = excluded.ended_at`,
		a.ID, a.WorkflowName, a.EngineID, string(a.Status), string(a.Classification),
		a.Diagnostic, a.AttemptNumber, a.StartedAt, a.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempt chain for a workflow in submission
// order.
func (s *SQLiteStore) ListAttempts(ctx context.Context, workflowName string) ([]*core.DeploymentAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_name, engine_id, status, classification, diagnostic, attempt_number, started_at, ended_at
		FROM deployment_attempts WHERE workflow_name = ? ORDER BY attempt_number`, workflowName)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*core.DeploymentAttempt
	for rows.Next() {
		var a core.DeploymentAttempt
		var status, classification string
		if err := rows.Scan(&a.ID, &a.WorkflowName, &a.EngineID, &status, &classification,
			&a.Diagnostic, &a.AttemptNumber, &a.StartedAt, &a.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Status = core.AttemptStatus(status)
		a.Classification = core.Classification(classification)
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*core.Session, error) {
	var session core.Session
	var id, phase, historyJSON, requirementsJSON string
	var definitionJSON sql.NullString
	var archived int

	err := row.Scan(&id, &session.TenantID, &session.Topic, &phase,
		&historyJSON, &requirementsJSON, &definitionJSON, &archived,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}

	session.ID = core.SessionID(id)
	session.Phase = core.Phase(phase)
	session.Archived = archived != 0

	if err := json.Unmarshal([]byte(historyJSON), &session.History); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	if err := json.Unmarshal([]byte(requirementsJSON), &session.Requirements); err != nil {
		return nil, fmt.Errorf("decoding requirements: %w", err)
	}
	if definitionJSON.Valid && definitionJSON.String != "" {
		session.Definition = &core.WorkflowDefinition{}
		if err := json.Unmarshal([]byte(definitionJSON.String), session.Definition); err != nil {
			return nil, fmt.Errorf("decoding definition: %w", err)
		}
	}
	return &session, nil
}

func scanSlot(row rowScanner) (*core.TenantSlot, error) {
	var slot core.TenantSlot
	var assignedAt sql.NullTime
	err := row.Scan(&slot.ProjectIndex, &slot.SlotIndex, &slot.TenantID, &assignedAt)
	if err != nil {
		return nil, err
	}
	if assignedAt.Valid {
		slot.AssignedAt = &assignedAt.Time
	}
	return &slot, nil
}

func encodeSession(session *core.Session) (history, requirements string, definition []byte, err error) {
	historyBytes, err := json.Marshal(session.History)
	if err != nil {
		return "", "", nil, fmt.Errorf("encoding history: %w", err)
	}
	if session.History == nil {
		historyBytes = []byte("[]")
	}
	requirementsBytes, err := json.Marshal(session.Requirements)
	if err != nil {
		return "", "", nil, fmt.Errorf("encoding requirements: %w", err)
	}
	if session.Definition != nil {
		definition, err = json.Marshal(session.Definition)
		if err != nil {
			return "", "", nil, fmt.Errorf("encoding definition: %w", err)
		}
	}
	return string(historyBytes), string(requirementsBytes), definition, nil
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
