package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
)

const executionColumns = `id, workflow_id, workflow_version, status, current_node_id, started_by, started_at, completed_at, error_message`

func (s *Store) CreateExecution(ctx context.Context, exec *model.Execution) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		exec.ID, exec.WorkflowID, exec.WorkflowVersion, string(exec.Status), exec.CurrentNodeID, exec.StartedBy,
		nanos(exec.StartedAt), nullNanos(exec.CompletedAt), exec.ErrorMessage)
	if err != nil && isUniqueViolation(err) {
		return persistence.ErrConflict
	}
	return storageError(err)
}

func (s *Store) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE executions SET status = ?, current_node_id = ?, completed_at = ?, error_message = ? WHERE id = ?`),
		string(exec.Status), exec.CurrentNodeID, nullNanos(exec.CompletedAt), exec.ErrorMessage, exec.ID)
	if err != nil {
		return storageError(err)
	}
	return expectOne(res)
}

func (s *Store) TransitionExecution(ctx context.Context, exec *model.Execution, from model.ExecutionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE executions SET status = ?, current_node_id = ?, completed_at = ?, error_message = ? WHERE id = ? AND status = ?`),
		string(exec.Status), exec.CurrentNodeID, nullNanos(exec.CompletedAt), exec.ErrorMessage, exec.ID, string(from))
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
	if _, err := s.GetExecution(ctx, exec.ID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+executionColumns+` FROM executions WHERE id = ?`), id)
	return scanExecution(row)
}

func scanExecution(row scanner) (*model.Execution, error) {
	var (
		exec                    model.Execution
		status                  string
		node, startedBy, errMsg sql.NullString
		startedAt               int64
		completedAt             sql.NullInt64
	)
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.WorkflowVersion, &status, &node, &startedBy, &startedAt, &completedAt, &errMsg); err != nil {
		return nil, storageError(err)
	}
	exec.Status = model.ExecutionStatus(status)
	exec.CurrentNodeID = node.String
	exec.StartedBy = startedBy.String
	exec.StartedAt = fromNanos(startedAt)
	exec.CompletedAt = fromNullNanos(completedAt)
	exec.ErrorMessage = errMsg.String
	return &exec, nil
}

const stepColumns = `id, execution_id, node_id, node_kind, status, input_data, output_data, error_message, started_at, completed_at`

func (s *Store) CreateStep(ctx context.Context, step *model.StepExecution) error {
	input, err := s.encodeMap(step.InputData)
	if err != nil {
		return err
	}
	output, err := s.encodeMap(step.OutputData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO step_executions (`+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		step.ID, step.ExecutionID, step.NodeID, string(step.NodeKind), string(step.Status), input, output, step.ErrorMessage,
		nanos(step.StartedAt), nullNanos(step.CompletedAt))
	if err != nil && isUniqueViolation(err) {
		return persistence.ErrConflict
	}
	return storageError(err)
}

func (s *Store) UpdateStep(ctx context.Context, step *model.StepExecution) error {
	ok, err := s.updateStep(ctx, step, "")
	if err != nil {
		return err
	}
	if !ok {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) TransitionStep(ctx context.Context, step *model.StepExecution, from model.StepStatus) (bool, error) {
	ok, err := s.updateStep(ctx, step, from)
	if err != nil || ok {
		return ok, err
	}
	if _, err := s.GetStep(ctx, step.ID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) updateStep(ctx context.Context, step *model.StepExecution, from model.StepStatus) (bool, error) {
	input, err := s.encodeMap(step.InputData)
	if err != nil {
		return false, err
	}
	output, err := s.encodeMap(step.OutputData)
	if err != nil {
		return false, err
	}
	query := `UPDATE step_executions SET status = ?, input_data = ?, output_data = ?, error_message = ?, completed_at = ? WHERE id = ?`
	args := []any{string(step.Status), input, output, step.ErrorMessage, nullNanos(step.CompletedAt), step.ID}
	if from != "" {
		query += ` AND status = ?`
		args = append(args, string(from))
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, storageError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(err)
	}
	return n == 1, nil
}

func (s *Store) GetStep(ctx context.Context, id string) (*model.StepExecution, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+stepColumns+` FROM step_executions WHERE id = ?`), id)
	return s.scanStep(row)
}

func (s *Store) ListSteps(ctx context.Context, executionID string) ([]*model.StepExecution, error) {
	return s.querySteps(ctx, `SELECT `+stepColumns+` FROM step_executions WHERE execution_id = ? ORDER BY started_at, id`, executionID)
}

func (s *Store) ListPendingSteps(ctx context.Context, startedBefore time.Time) ([]*model.StepExecution, error) {
	return s.querySteps(ctx, `SELECT `+stepColumns+` FROM step_executions WHERE status = ? AND started_at <= ? ORDER BY started_at, id`,
		string(model.STEP_PENDING), nanos(startedBefore))
}

func (s *Store) querySteps(ctx context.Context, query string, args ...any) ([]*model.StepExecution, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()
	var out []*model.StepExecution
	for rows.Next() {
		step, err := s.scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, storageError(rows.Err())
}

func (s *Store) scanStep(row scanner) (*model.StepExecution, error) {
	var (
		step                  model.StepExecution
		kind, status          string
		input, output, errMsg sql.NullString
		startedAt             int64
		completedAt           sql.NullInt64
	)
	if err := row.Scan(&step.ID, &step.ExecutionID, &step.NodeID, &kind, &status, &input, &output, &errMsg, &startedAt, &completedAt); err != nil {
		return nil, storageError(err)
	}
	var err error
	if step.InputData, err = s.decodeMap(input); err != nil {
		return nil, err
	}
	if step.OutputData, err = s.decodeMap(output); err != nil {
		return nil, err
	}
	step.NodeKind = model.NodeKind(kind)
	step.Status = model.StepStatus(status)
	step.ErrorMessage = errMsg.String
	step.StartedAt = fromNanos(startedAt)
	step.CompletedAt = fromNullNanos(completedAt)
	return &step, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageError(err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
