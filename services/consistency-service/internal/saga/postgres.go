package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rezaul-kabir/gridbase/libs/db"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

// PostgresStore persists instances in saga_instances. Completed steps and
// the trigger event are stored as jsonb.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, inst *Instance) error {
	steps, err := inst.encodeSteps()
	if err != nil {
		return fmt.Errorf("encode completed steps: %w", err)
	}
	trigger, err := event.Encode(inst.TriggerEvent)
	if err != nil {
		return fmt.Errorf("encode trigger event: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO saga_instances (
			id, saga_type, status, current_step, compensated_steps,
			completed_steps, trigger_event, correlation_id, tenant_id,
			last_error, started_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			compensated_steps = EXCLUDED.compensated_steps,
			completed_steps = EXCLUDED.completed_steps,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`,
		inst.ID, inst.Type, inst.Status.String(), inst.CurrentStep, inst.CompensatedSteps,
		steps, trigger, inst.CorrelationID, inst.TenantID,
		inst.LastError, inst.StartedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save saga instance: %w", err)
	}
	return nil
}

const instanceColumns = `
	id, saga_type, status, current_step, compensated_steps,
	completed_steps, trigger_event, correlation_id, tenant_id,
	last_error, started_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM saga_instances WHERE id = $1`, id,
	)
	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get saga instance: %w", err)
	}
	return inst, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Instance, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = st.String()
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM saga_instances
		 WHERE status = ANY($1) ORDER BY started_at`, names,
	)
	if err != nil {
		return nil, fmt.Errorf("list saga instances: %w", err)
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanInstance(row pgx.Row) (*Instance, error) {
	var (
		inst    Instance
		status  string
		steps   []byte
		trigger []byte
	)
	err := row.Scan(
		&inst.ID, &inst.Type, &status, &inst.CurrentStep, &inst.CompensatedSteps,
		&steps, &trigger, &inst.CorrelationID, &inst.TenantID,
		&inst.LastError, &inst.StartedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Status, err = ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &inst.CompletedSteps); err != nil {
		return nil, fmt.Errorf("decode completed steps: %w", err)
	}
	evt, err := event.Decode(trigger)
	if err != nil {
		return nil, fmt.Errorf("decode trigger event: %w", err)
	}
	inst.TriggerEvent = evt
	return &inst, nil
}
