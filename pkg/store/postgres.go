package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

type pgStore struct {
	db *stdsql.DB
}

func (s *pgStore) Close() error { return s.db.Close() }

func (s *pgStore) GetException(ctx context.Context, id domain.Identity) (*domain.Exception, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_system, domain, exception_type, severity, severity_overridden,
		       status, raw_payload, normalized_payload, current_stage,
		       current_playbook_id, current_step, sla_deadline, last_sla_emitted,
		       created_at, updated_at, version
		FROM exceptions WHERE tenant_id = $1 AND exception_id = $2`,
		id.TenantID, id.ExceptionID)
	e := &domain.Exception{TenantID: id.TenantID, ExceptionID: id.ExceptionID}
	var normalized stdsql.Null[json.RawMessage]
	var playbookID, lastSLA stdsql.NullString
	var currentStep stdsql.NullInt64
	var slaDeadline stdsql.NullTime
	err := row.Scan(&e.SourceSystem, &e.Domain, &e.ExceptionType, &e.Severity, &e.SeverityOverridden,
		&e.Status, &e.RawPayload, &normalized, &e.CurrentStage,
		&playbookID, &currentStep, &slaDeadline, &lastSLA,
		&e.CreatedAt, &e.UpdatedAt, &e.Version)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get exception: %w", err)
	}
	if normalized.Valid {
		e.NormalizedPayload = normalized.V
	}
	if playbookID.Valid {
		e.CurrentPlaybookID = &playbookID.String
	}
	if currentStep.Valid {
		v := int(currentStep.Int64)
		e.CurrentStep = &v
	}
	if slaDeadline.Valid {
		e.SLADeadline = &slaDeadline.Time
	}
	if lastSLA.Valid {
		e.LastSLAEmitted = &lastSLA.String
	}
	return e, nil
}

func (s *pgStore) GetPlaybookProgress(ctx context.Context, id domain.Identity) (*domain.PlaybookProgress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT playbook_id, playbook_version, total_steps, current_step, steps
		FROM playbook_progress WHERE tenant_id = $1 AND exception_id = $2`,
		id.TenantID, id.ExceptionID)
	p := &domain.PlaybookProgress{TenantID: id.TenantID, ExceptionID: id.ExceptionID}
	var stepsRaw []byte
	err := row.Scan(&p.PlaybookID, &p.PlaybookVersion, &p.TotalSteps, &p.CurrentStep, &stepsRaw)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get playbook progress: %w", err)
	}
	if err := json.Unmarshal(stepsRaw, &p.Steps); err != nil {
		return nil, fmt.Errorf("store: decode step progress: %w", err)
	}
	return p, nil
}

func (s *pgStore) EventExists(ctx context.Context, tenantID string, key eventlog.LogicalKey) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM exception_events
		WHERE tenant_id = $1 AND exception_id = $2 AND event_type = $3 AND attempt = $4 AND producer = $5`,
		tenantID, key.ExceptionID, key.EventType, key.Attempt, key.Producer).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: event exists: %w", err)
	}
	return n > 0, nil
}

func (s *pgStore) ListEvents(ctx context.Context, id domain.Identity) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, actor_type, actor_id, payload, created_at,
		       schema_version, producer, attempt
		FROM exception_events
		WHERE tenant_id = $1 AND exception_id = $2
		ORDER BY row_id ASC`,
		id.TenantID, id.ExceptionID)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev := domain.Event{TenantID: id.TenantID, ExceptionID: id.ExceptionID}
		if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.ActorType, &ev.ActorID, &ev.Payload,
			&ev.CreatedAt, &ev.SchemaVersion, &ev.Producer, &ev.Attempt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *pgStore) ListToolExecutions(ctx context.Context, id domain.Identity) ([]domain.ToolExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, step_order, tool_id, requested_by_type, requested_by_id,
		       input_payload, output_payload, status, error_message, requested_at, completed_at
		FROM tool_executions
		WHERE tenant_id = $1 AND exception_id = $2
		ORDER BY requested_at ASC`,
		id.TenantID, id.ExceptionID)
	if err != nil {
		return nil, fmt.Errorf("store: list tool executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ToolExecution
	for rows.Next() {
		te := domain.ToolExecution{TenantID: id.TenantID, ExceptionID: id.ExceptionID}
		var output stdsql.Null[json.RawMessage]
		var completedAt stdsql.NullTime
		if err := rows.Scan(&te.ExecutionID, &te.StepOrder, &te.ToolID, &te.RequestedByType, &te.RequestedByID,
			&te.InputPayload, &output, &te.Status, &te.ErrorMessage, &te.RequestedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("store: scan tool execution: %w", err)
		}
		if output.Valid {
			te.OutputPayload = output.V
		}
		if completedAt.Valid {
			t := completedAt.Time
			te.CompletedAt = &t
		}
		out = append(out, te)
	}
	return out, rows.Err()
}

func (s *pgStore) ListDLQ(ctx context.Context, tenantID string, limit int) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT envelope, reason, detail, diverted_at
		FROM dlq WHERE tenant_id = $1
		ORDER BY diverted_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list dlq: %w", err)
	}
	defer rows.Close()

	var out []DLQEntry
	for rows.Next() {
		var raw []byte
		var entry DLQEntry
		if err := rows.Scan(&raw, &entry.Reason, &entry.Detail, &entry.DivertedAt); err != nil {
			return nil, fmt.Errorf("store: scan dlq: %w", err)
		}
		if err := json.Unmarshal(raw, &entry.Envelope); err != nil {
			return nil, fmt.Errorf("store: decode dlq envelope: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *pgStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT row_id, topic, key, envelope FROM outbox
		WHERE published_at IS NULL
		ORDER BY row_id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var raw []byte
		var r OutboxRow
		if err := rows.Scan(&r.RowID, &r.Topic, &r.Key, &raw); err != nil {
			return nil, fmt.Errorf("store: scan outbox: %w", err)
		}
		if err := json.Unmarshal(raw, &r.Envelope); err != nil {
			return nil, fmt.Errorf("store: decode outbox envelope: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) MarkPublished(ctx context.Context, rowID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = now()
		WHERE row_id = $1 AND published_at IS NULL`, rowID)
	if err != nil {
		return fmt.Errorf("store: mark published: %w", err)
	}
	return nil
}

func (s *pgStore) DueSLAEntries(ctx context.Context) ([]SLAEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, exception_id, sla_deadline, coalesce(last_sla_emitted, '')
		FROM exceptions
		WHERE sla_deadline IS NOT NULL AND status NOT IN ('RESOLVED', 'CLOSED')`)
	if err != nil {
		return nil, fmt.Errorf("store: due sla entries: %w", err)
	}
	defer rows.Close()

	var out []SLAEntry
	for rows.Next() {
		var e SLAEntry
		if err := rows.Scan(&e.TenantID, &e.ExceptionID, &e.SLADeadline, &e.LastSLAEmitted); err != nil {
			return nil, fmt.Errorf("store: scan sla entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *pgStore) MarkSLAEmitted(ctx context.Context, id domain.Identity, marker string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE exceptions SET last_sla_emitted = $3, updated_at = now()
		WHERE tenant_id = $1 AND exception_id = $2`, id.TenantID, id.ExceptionID, marker)
	if err != nil {
		return fmt.Errorf("store: mark sla emitted: %w", err)
	}
	return nil
}

// Commit persists CommitInput's effects in a single database transaction:
// upsert the exception row under an optimistic-concurrency check, replace
// the playbook progress row, upsert tool executions, append events (skipping
// ones whose logical key already exists), and append outbox rows. The whole
// transaction either lands or is rolled back — the outbox row is durable
// before Commit returns, satisfying the "ack only after outbox durability"
// rule the worker runtime applies on its side.
func (s *pgStore) Commit(ctx context.Context, in CommitInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin commit tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if in.Exception != nil {
		if err := upsertException(ctx, tx, in.Exception, in.ExpectedVersion); err != nil {
			return err
		}
	}
	if in.PlaybookProgress != nil {
		if err := upsertPlaybookProgress(ctx, tx, in.PlaybookProgress); err != nil {
			return err
		}
	}
	for i := range in.ToolExecutions {
		if err := upsertToolExecution(ctx, tx, &in.ToolExecutions[i]); err != nil {
			return err
		}
	}
	for _, ev := range in.Events {
		if err := insertEventDeduped(ctx, tx, ev); err != nil {
			return err
		}
	}
	for _, ob := range in.Outbound {
		if err := insertOutbox(ctx, tx, ob); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

func upsertException(ctx context.Context, tx *stdsql.Tx, e *domain.Exception, expectedVersion int64) error {
	var playbookID, lastSLA stdsql.NullString
	if e.CurrentPlaybookID != nil {
		playbookID = stdsql.NullString{String: *e.CurrentPlaybookID, Valid: true}
	}
	if e.LastSLAEmitted != nil {
		lastSLA = stdsql.NullString{String: *e.LastSLAEmitted, Valid: true}
	}
	var currentStep stdsql.NullInt64
	if e.CurrentStep != nil {
		currentStep = stdsql.NullInt64{Int64: int64(*e.CurrentStep), Valid: true}
	}
	var slaDeadline stdsql.NullTime
	if e.SLADeadline != nil {
		slaDeadline = stdsql.NullTime{Time: *e.SLADeadline, Valid: true}
	}

	if expectedVersion == 0 {
		// Create path: insert only if absent. A concurrent duplicate
		// intake lands here as a no-op conflict rather than an error —
		// the handler re-reads and proceeds from the existing row.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO exceptions (
				tenant_id, exception_id, source_system, domain, exception_type,
				severity, severity_overridden, status, raw_payload, normalized_payload,
				current_stage, current_playbook_id, current_step, sla_deadline,
				last_sla_emitted, version
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1)
			ON CONFLICT (tenant_id, exception_id) DO NOTHING`,
			e.TenantID, e.ExceptionID, e.SourceSystem, e.Domain, e.ExceptionType,
			e.Severity, e.SeverityOverridden, e.Status, e.RawPayload, nullableJSON(e.NormalizedPayload),
			e.CurrentStage, playbookID, currentStep, slaDeadline, lastSLA)
		if err != nil {
			return fmt.Errorf("store: insert exception: %w", err)
		}
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE exceptions SET
			source_system = $3, domain = $4, exception_type = $5, severity = $6,
			severity_overridden = $7, status = $8, raw_payload = $9,
			normalized_payload = $10, current_stage = $11, current_playbook_id = $12,
			current_step = $13, sla_deadline = $14, last_sla_emitted = $15,
			updated_at = now(), version = version + 1
		WHERE tenant_id = $1 AND exception_id = $2 AND version = $16`,
		e.TenantID, e.ExceptionID, e.SourceSystem, e.Domain, e.ExceptionType,
		e.Severity, e.SeverityOverridden, e.Status, e.RawPayload, nullableJSON(e.NormalizedPayload),
		e.CurrentStage, playbookID, currentStep, slaDeadline, lastSLA, expectedVersion)
	if err != nil {
		return fmt.Errorf("store: update exception: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update exception rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func nullableJSON(b []byte) stdsql.Null[json.RawMessage] {
	if len(b) == 0 {
		return stdsql.Null[json.RawMessage]{}
	}
	return stdsql.Null[json.RawMessage]{V: b, Valid: true}
}

func upsertPlaybookProgress(ctx context.Context, tx *stdsql.Tx, p *domain.PlaybookProgress) error {
	stepsRaw, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("store: marshal step progress: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO playbook_progress (tenant_id, exception_id, playbook_id, playbook_version, total_steps, current_step, steps)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, exception_id) DO UPDATE SET
			playbook_id = EXCLUDED.playbook_id,
			playbook_version = EXCLUDED.playbook_version,
			total_steps = EXCLUDED.total_steps,
			current_step = EXCLUDED.current_step,
			steps = EXCLUDED.steps`,
		p.TenantID, p.ExceptionID, p.PlaybookID, p.PlaybookVersion, p.TotalSteps, p.CurrentStep, stepsRaw)
	if err != nil {
		return fmt.Errorf("store: upsert playbook progress: %w", err)
	}
	return nil
}

func upsertToolExecution(ctx context.Context, tx *stdsql.Tx, t *domain.ToolExecution) error {
	var completedAt stdsql.NullTime
	if t.CompletedAt != nil {
		completedAt = stdsql.NullTime{Time: *t.CompletedAt, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tool_executions (
			tenant_id, exception_id, execution_id, step_order, tool_id,
			requested_by_type, requested_by_id, input_payload, output_payload,
			status, error_message, requested_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (tenant_id, exception_id, execution_id) DO UPDATE SET
			status = EXCLUDED.status,
			output_payload = EXCLUDED.output_payload,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at`,
		t.TenantID, t.ExceptionID, t.ExecutionID, t.StepOrder, t.ToolID,
		t.RequestedByType, t.RequestedByID, t.InputPayload, nullableJSON(t.OutputPayload),
		t.Status, t.ErrorMessage, t.RequestedAt, completedAt)
	if err != nil {
		return fmt.Errorf("store: upsert tool execution: %w", err)
	}
	return nil
}

func insertEventDeduped(ctx context.Context, tx *stdsql.Tx, ev domain.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO exception_events (
			tenant_id, exception_id, event_id, event_type, actor_type, actor_id,
			payload, created_at, schema_version, producer, attempt
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT ON CONSTRAINT uq_exception_events_logical_key DO NOTHING`,
		ev.TenantID, ev.ExceptionID, ev.EventID, ev.EventType, ev.ActorType, ev.ActorID,
		ev.Payload, ev.CreatedAt, ev.SchemaVersion, ev.Producer, ev.Attempt)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx *stdsql.Tx, ob OutboundEnvelope) error {
	body, err := json.Marshal(ob.Envelope)
	if err != nil {
		return fmt.Errorf("store: marshal outbound envelope: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (topic, key, envelope) VALUES ($1,$2,$3)`,
		ob.Topic, ob.Envelope.Key(), body)
	if err != nil {
		return fmt.Errorf("store: insert outbox: %w", err)
	}
	return nil
}
