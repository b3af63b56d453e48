package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

// postgresSchema mirrors the SQLite schema with Postgres types. Applied
// idempotently at startup; there is no separate migration tool.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    topic        TEXT NOT NULL DEFAULT '',
    phase        TEXT NOT NULL,
    history      JSONB NOT NULL DEFAULT '[]',
    requirements JSONB NOT NULL DEFAULT '{}',
    definition   JSONB,
    archived     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant_id);

CREATE TABLE IF NOT EXISTS tenant_slots (
    project_index INTEGER NOT NULL,
    slot_index    INTEGER NOT NULL,
    tenant_id     TEXT NOT NULL DEFAULT '',
    assigned_at   TIMESTAMPTZ,
    PRIMARY KEY (project_index, slot_index)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_tenant
    ON tenant_slots(tenant_id) WHERE tenant_id != '';

CREATE TABLE IF NOT EXISTS deployment_attempts (
    id             TEXT PRIMARY KEY,
    workflow_name  TEXT NOT NULL,
    engine_id      TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    classification TEXT NOT NULL DEFAULT '',
    diagnostic     TEXT NOT NULL DEFAULT '',
    attempt_number INTEGER NOT NULL,
    started_at     TIMESTAMPTZ NOT NULL,
    ended_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_attempts_workflow
    ON deployment_attempts(workflow_name);
`

// PostgresStore implements core.Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Ping verifies the pool is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// GetSession retrieves a session by id.
func (s *PostgresStore) GetSession(ctx context.Context, id core.SessionID) (*core.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, topic, phase, history, requirements, definition, archived, created_at, updated_at
		FROM sessions WHERE id = $1`, string(id))
	session, err := scanPgSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound("session", string(id))
	}
	return session, err
}

// PutSession inserts or replaces a session.
func (s *PostgresStore) PutSession(ctx context.Context, session *core.Session) error {
	historyJSON, requirementsJSON, definitionJSON, err := encodeSession(session)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, tenant_id, topic, phase, history, requirements, definition, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			topic = EXCLUDED.topic,
			phase = EXCLUDED.phase,
			history = EXCLUDED.history,
			requirements = EXCLUDED.requirements,
			definition = EXCLUDED.definition,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at`,
		string(session.ID), session.TenantID, session.Topic, session.Phase.String(),
		historyJSON, requirementsJSON, nullableString(definitionJSON),
		session.Archived, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// DeleteSession removes a session.
func (s *PostgresStore) DeleteSession(ctx context.Context, id core.SessionID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", string(id))
	return err
}

// ListSessions returns the sessions belonging to a tenant, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context, tenantID string) ([]*core.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, topic, phase, history, requirements, definition, archived, created_at, updated_at
		FROM sessions WHERE tenant_id = $1 ORDER BY updated_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		session, err := scanPgSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// SeedSlots pre-populates the pool with unassigned slots.
func (s *PostgresStore) SeedSlots(ctx context.Context, projects, slotsPerProject int) error {
	for p := 0; p < projects; p++ {
		for i := 0; i < slotsPerProject; i++ {
			_, err := s.pool.Exec(ctx, `
				INSERT INTO tenant_slots (project_index, slot_index, tenant_id)
				VALUES ($1, $2, '')
				ON CONFLICT (project_index, slot_index) DO NOTHING`, p, i)
			if err != nil {
				return fmt.Errorf("seeding slot %d/%d: %w", p, i, err)
			}
		}
	}
	return nil
}

// ListSlots returns the entire pool ordered by (projectIndex, slotIndex).
func (s *PostgresStore) ListSlots(ctx context.Context) ([]*core.TenantSlot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT project_index, slot_index, tenant_id, assigned_at
		FROM tenant_slots ORDER BY project_index, slot_index`)
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var slots []*core.TenantSlot
	for rows.Next() {
		var slot core.TenantSlot
		if err := rows.Scan(&slot.ProjectIndex, &slot.SlotIndex, &slot.TenantID, &slot.AssignedAt); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		slots = append(slots, &slot)
	}
	return slots, rows.Err()
}

// SlotFor returns the slot held by a tenant, or nil if none.
func (s *PostgresStore) SlotFor(ctx context.Context, tenantID string) (*core.TenantSlot, error) {
	var slot core.TenantSlot
	err := s.pool.QueryRow(ctx, `
		SELECT project_index, slot_index, tenant_id, assigned_at
		FROM tenant_slots WHERE tenant_id = $1`, tenantID).
		Scan(&slot.ProjectIndex, &slot.SlotIndex, &slot.TenantID, &slot.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up slot: %w", err)
	}
	return &slot, nil
}

// ClaimSlot atomically assigns the slot if it is unassigned.
func (s *PostgresStore) ClaimSlot(ctx context.Context, projectIndex, slotIndex int, tenantID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenant_slots
		SET tenant_id = $1, assigned_at = $2
		WHERE project_index = $3 AND slot_index = $4 AND tenant_id = ''`,
		tenantID, time.Now(), projectIndex, slotIndex)
	if err != nil {
		return false, fmt.Errorf("claiming slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSlot frees the slot held by a tenant.
func (s *PostgresStore) ReleaseSlot(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tenant_slots SET tenant_id = '', assigned_at = NULL
		WHERE tenant_id = $1`, tenantID)
	return err
}

// RecordAttempt inserts or updates an attempt record.
func (s *PostgresStore) RecordAttempt(ctx context.Context, a *core.DeploymentAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deployment_attempts (id, workflow_name, engine_id, status, classification, diagnostic, attempt_number, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			engine_id = EXCLUDED.engine_id,
			status = EXCLUDED.status,
			classification = EXCLUDED.classification,
			diagnostic = EXCLUDED.diagnostic,
			ended_at = EXCLUDED.ended_at`,
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
func (s *PostgresStore) ListAttempts(ctx context.Context, workflowName string) ([]*core.DeploymentAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_name, engine_id, status, classification, diagnostic, attempt_number, started_at, ended_at
		FROM deployment_attempts WHERE workflow_name = $1 ORDER BY attempt_number`, workflowName)
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

// pgRowScanner covers pgx.Row and pgx.Rows.
type pgRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPgSession(row pgRowScanner) (*core.Session, error) {
	var session core.Session
	var id, phase string
	var historyJSON, requirementsJSON []byte
	var definitionJSON []byte

	err := row.Scan(&id, &session.TenantID, &session.Topic, &phase,
		&historyJSON, &requirementsJSON, &definitionJSON, &session.Archived,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}

	session.ID = core.SessionID(id)
	session.Phase = core.Phase(phase)

	if err := json.Unmarshal(historyJSON, &session.History); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	if err := json.Unmarshal(requirementsJSON, &session.Requirements); err != nil {
		return nil, fmt.Errorf("decoding requirements: %w", err)
	}
	if len(definitionJSON) > 0 {
		session.Definition = &core.WorkflowDefinition{}
		if err := json.Unmarshal(definitionJSON, session.Definition); err != nil {
			return nil, fmt.Errorf("decoding definition: %w", err)
		}
	}
	return &session, nil
}
