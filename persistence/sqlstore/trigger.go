package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mohitkumar/flowgate/model"
)

const scheduleColumns = `id, workflow_id, cron_expression, timezone, is_active, input_data, last_run_at, next_run_at`

func (s *Store) SaveSchedule(ctx context.Context, sc *model.Schedule) error {
	input, err := s.encodeMap(sc.InputData)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM schedules WHERE id = ?`), sc.ID); err != nil {
			return storageError(err)
		}
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO schedules (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			sc.ID, sc.WorkflowID, sc.CronExpression, sc.Timezone, boolInt(sc.IsActive), input, nullNanos(sc.LastRunAt), nullNanos(sc.NextRunAt))
		return storageError(err)
	})
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	return s.scanSchedule(s.db.QueryRowContext(ctx, s.q(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`), id))
}

func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+scheduleColumns+` FROM schedules
		WHERE is_active = 1 AND (next_run_at IS NULL OR next_run_at <= ?) ORDER BY id`), nanos(now))
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()
	var out []*model.Schedule
	for rows.Next() {
		sc, err := s.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, storageError(rows.Err())
}

func (s *Store) UpdateScheduleRun(ctx context.Context, id string, prevNextRunAt *time.Time, lastRunAt *time.Time, nextRunAt *time.Time) (bool, error) {
	query := `UPDATE schedules SET last_run_at = COALESCE(?, last_run_at), next_run_at = COALESCE(?, next_run_at) WHERE id = ?`
	args := []any{nullNanos(lastRunAt), nullNanos(nextRunAt), id}
	if prevNextRunAt == nil {
		query += ` AND next_run_at IS NULL`
	} else {
		query += ` AND next_run_at = ?`
		args = append(args, nanos(*prevNextRunAt))
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, storageError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetSchedule(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) scanSchedule(row scanner) (*model.Schedule, error) {
	var (
		sc            model.Schedule
		tz, input     sql.NullString
		active        int
		lastRun, next sql.NullInt64
	)
	if err := row.Scan(&sc.ID, &sc.WorkflowID, &sc.CronExpression, &tz, &active, &input, &lastRun, &next); err != nil {
		return nil, storageError(err)
	}
	var err error
	if sc.InputData, err = s.decodeMap(input); err != nil {
		return nil, err
	}
	sc.Timezone = tz.String
	sc.IsActive = active == 1
	sc.LastRunAt = fromNullNanos(lastRun)
	sc.NextRunAt = fromNullNanos(next)
	return &sc, nil
}

func (s *Store) SaveWebhookConfig(ctx context.Context, cfg *model.WebhookConfig) error {
	creds, err := json.Marshal(cfg.Credentials)
	if err != nil {
		return err
	}
	schema, err := s.encodeMap(cfg.PayloadSchema)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM webhook_configs WHERE id = ?`), cfg.ID); err != nil {
			return storageError(err)
		}
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO webhook_configs
			(id, workflow_id, is_active, auth_type, credentials, payload_schema, rate_limit_per_minute)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			cfg.ID, cfg.WorkflowID, boolInt(cfg.IsActive), string(cfg.AuthType), string(creds), schema, cfg.RateLimitPerMinute)
		return storageError(err)
	})
}

func (s *Store) GetWebhookConfig(ctx context.Context, workflowID string, webhookID string) (*model.WebhookConfig, error) {
	var (
		cfg           model.WebhookConfig
		active        int
		authType      string
		creds, schema sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, workflow_id, is_active, auth_type, credentials, payload_schema, rate_limit_per_minute
		FROM webhook_configs WHERE id = ? AND workflow_id = ?`), webhookID, workflowID).
		Scan(&cfg.ID, &cfg.WorkflowID, &active, &authType, &creds, &schema, &cfg.RateLimitPerMinute)
	if err != nil {
		return nil, storageError(err)
	}
	cfg.IsActive = active == 1
	cfg.AuthType = model.AuthType(authType)
	if creds.Valid && creds.String != "" {
		if err := json.Unmarshal([]byte(creds.String), &cfg.Credentials); err != nil {
			return nil, err
		}
	}
	if cfg.PayloadSchema, err = s.decodeMap(schema); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) InsertWebhookEvent(ctx context.Context, ev *model.WebhookEvent) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO webhook_events
		(id, webhook_config_id, workflow_id, queue_id, source_address, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.WebhookConfigID, ev.WorkflowID, ev.QueueID, ev.SourceAddress, ev.Status, nanos(ev.CreatedAt))
	return storageError(err)
}
