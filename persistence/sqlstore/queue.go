package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
)

const queueColumns = `id, workflow_id, workflow_version, kind, status, input_data, attempts, max_attempts, error_message,
	created_at, available_at, processing_started_at, completed_at`

const leaseExpired = "processing lease expired"

func (s *Store) InsertQueueItem(ctx context.Context, item *model.QueueItem) error {
	return s.insertQueueItem(ctx, s.db, item)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertQueueItem(ctx context.Context, db execer, item *model.QueueItem) error {
	input, err := s.encodeMap(item.InputData)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.q(`INSERT INTO queue_items (`+queueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.WorkflowID, item.WorkflowVersion, string(item.Kind), string(item.Status), input, item.Attempts, item.MaxAttempts,
		item.ErrorMessage, nanos(item.CreatedAt), nanos(item.AvailableAt), nullNanos(item.ProcessingStartedAt), nullNanos(item.CompletedAt))
	if err != nil && isUniqueViolation(err) {
		return persistence.ErrConflict
	}
	return storageError(err)
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	return s.getQueueItem(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) getQueueItem(ctx context.Context, q querier, id string) (*model.QueueItem, error) {
	row := q.QueryRowContext(ctx, s.q(`SELECT `+queueColumns+` FROM queue_items WHERE id = ?`), id)
	return s.scanQueueItem(row)
}

// ClaimQueueItems selects due pending rows and flips each one with a
// status-guarded update; rows another claimer flipped first are skipped.
func (s *Store) ClaimQueueItems(ctx context.Context, now time.Time, limit int) ([]*model.QueueItem, error) {
	var claimed []*model.QueueItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.q(`SELECT id FROM queue_items WHERE status = ? AND available_at <= ?
			ORDER BY created_at, id LIMIT ?`+s.dialect.forUpdate()),
			string(model.QUEUE_PENDING), nanos(now), limit)
		if err != nil {
			return storageError(err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return storageError(err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return storageError(err)
		}
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, s.q(`UPDATE queue_items SET status = ?, processing_started_at = ? WHERE id = ? AND status = ?`),
				string(model.QUEUE_PROCESSING), nanos(now), id, string(model.QUEUE_PENDING))
			if err != nil {
				return storageError(err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return storageError(err)
			} else if n != 1 {
				continue
			}
			item, err := s.getQueueItem(ctx, tx, id)
			if err != nil {
				return err
			}
			claimed = append(claimed, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) ReclaimStaleQueueItems(ctx context.Context, staleBefore time.Time, now time.Time) (int, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE queue_items SET status = ?, attempts = attempts + 1, error_message = ?,
			processing_started_at = NULL, completed_at = ?
			WHERE status = ? AND processing_started_at <= ? AND attempts + 1 >= max_attempts`),
			string(model.QUEUE_FAILED), leaseExpired, nanos(now), string(model.QUEUE_PROCESSING), nanos(staleBefore))
		if err != nil {
			return storageError(err)
		}
		dead, _ := res.RowsAffected()
		res, err = tx.ExecContext(ctx, s.q(`UPDATE queue_items SET status = ?, attempts = attempts + 1, error_message = ?,
			processing_started_at = NULL, available_at = ?
			WHERE status = ? AND processing_started_at <= ?`),
			string(model.QUEUE_PENDING), leaseExpired, nanos(now), string(model.QUEUE_PROCESSING), nanos(staleBefore))
		if err != nil {
			return storageError(err)
		}
		retried, _ := res.RowsAffected()
		total = dead + retried
		return nil
	})
	return int(total), err
}

func (s *Store) CompleteQueueItem(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE queue_items SET status = ?, completed_at = ?, error_message = ? WHERE id = ? AND status = ?`),
		string(model.QUEUE_COMPLETED), nanos(now), "", id, string(model.QUEUE_PROCESSING))
	if err != nil {
		return storageError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetQueueItem(ctx, id); err != nil {
		return err
	}
	return persistence.ErrNotClaimed
}

func (s *Store) FailQueueItem(ctx context.Context, id string, errMsg string, now time.Time, retryAt time.Time) (*model.QueueItem, error) {
	var out *model.QueueItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		var attempts, maxAttempts int
		err := tx.QueryRowContext(ctx, s.q(`SELECT status, attempts, max_attempts FROM queue_items WHERE id = ?`+s.dialect.lockRow()), id).
			Scan(&status, &attempts, &maxAttempts)
		if err != nil {
			return storageError(err)
		}
		if model.QueueStatus(status) != model.QUEUE_PROCESSING {
			return persistence.ErrNotClaimed
		}
		item := model.QueueItem{Attempts: attempts, MaxAttempts: maxAttempts}
		if item.Exhausted() {
			_, err = tx.ExecContext(ctx, s.q(`UPDATE queue_items SET status = ?, attempts = ?, error_message = ?, processing_started_at = NULL,
				completed_at = ? WHERE id = ?`),
				string(model.QUEUE_FAILED), attempts+1, truncate(errMsg), nanos(now), id)
		} else {
			_, err = tx.ExecContext(ctx, s.q(`UPDATE queue_items SET status = ?, attempts = ?, error_message = ?, processing_started_at = NULL,
				available_at = ? WHERE id = ?`),
				string(model.QUEUE_PENDING), attempts+1, truncate(errMsg), nanos(retryAt), id)
		}
		if err != nil {
			return storageError(err)
		}
		out, err = s.getQueueItem(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertQueueItemWithin serializes admissions per workflow: postgres takes a
// transaction advisory lock, mysql a named lock held on the connection until
// after commit. sqlite runs on a single connection, so its transactions are
// already serial.
func (s *Store) InsertQueueItemWithin(ctx context.Context, item *model.QueueItem, since time.Time, limit int) (bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, storageError(err)
	}
	defer conn.Close()

	key := "flowgate:admit:" + item.WorkflowID
	if s.dialect.Name == MySQL.Name {
		var got sql.NullInt64
		if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, key, admissionLockWait).Scan(&got); err != nil {
			return false, storageError(err)
		}
		if got.Int64 != 1 {
			return false, persistence.StorageLayerError{Message: "timed out waiting for admission lock of " + item.WorkflowID}
		}
		defer func() {
			var released sql.NullInt64
			_ = conn.QueryRowContext(context.Background(), `SELECT RELEASE_LOCK(?)`, key).Scan(&released)
		}()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return false, storageError(err)
	}
	inserted, err := s.admit(ctx, tx, key, item, since, limit)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, storageError(err)
	}
	return inserted, nil
}

const admissionLockWait = 10

func (s *Store) admit(ctx context.Context, tx *sql.Tx, key string, item *model.QueueItem, since time.Time, limit int) (bool, error) {
	if s.dialect.Name == Postgres.Name {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return false, storageError(err)
		}
	}
	var n int
	err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM queue_items WHERE workflow_id = ? AND created_at >= ?`),
		item.WorkflowID, nanos(since)).Scan(&n)
	if err != nil {
		return false, storageError(err)
	}
	if n >= limit {
		return false, nil
	}
	if err := s.insertQueueItem(ctx, tx, item); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) scanQueueItem(row scanner) (*model.QueueItem, error) {
	var (
		item                   model.QueueItem
		kind, status           string
		input, errMsg          sql.NullString
		createdAt, availableAt int64
		started, completed     sql.NullInt64
	)
	err := row.Scan(&item.ID, &item.WorkflowID, &item.WorkflowVersion, &kind, &status, &input, &item.Attempts, &item.MaxAttempts,
		&errMsg, &createdAt, &availableAt, &started, &completed)
	if err != nil {
		return nil, storageError(err)
	}
	if item.InputData, err = s.decodeMap(input); err != nil {
		return nil, err
	}
	item.Kind = model.QueueItemKind(kind)
	item.Status = model.QueueStatus(status)
	item.ErrorMessage = errMsg.String
	item.CreatedAt = fromNanos(createdAt)
	item.AvailableAt = fromNanos(availableAt)
	item.ProcessingStartedAt = fromNullNanos(started)
	item.CompletedAt = fromNullNanos(completed)
	return &item, nil
}

func truncate(msg string) string {
	const max = 4000
	if len(msg) <= max {
		return msg
	}
	return strings.ToValidUTF8(msg[:max], "")
}
