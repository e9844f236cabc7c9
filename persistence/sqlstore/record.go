package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/util"
)

func (s *Store) InsertRecord(ctx context.Context, rec *model.Record) error {
	data, err := s.encodeMap(rec.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO records (collection, id, data, updated_at) VALUES (?, ?, ?, ?)`),
		rec.Collection, rec.ID, data, nanos(time.Now()))
	if err != nil && isUniqueViolation(err) {
		return persistence.ErrConflict
	}
	return storageError(err)
}

func (s *Store) UpdateRecord(ctx context.Context, collection string, id string, values map[string]any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw sql.NullString
		err := tx.QueryRowContext(ctx, s.q(`SELECT data FROM records WHERE collection = ? AND id = ?`+s.dialect.lockRow()), collection, id).Scan(&raw)
		if err != nil {
			return storageError(err)
		}
		current, err := s.decodeMap(raw)
		if err != nil {
			return err
		}
		data, err := s.encodeMap(util.MergeMaps(current, values))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(`UPDATE records SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`),
			data, nanos(time.Now()), collection, id)
		return storageError(err)
	})
}

func (s *Store) GetRecord(ctx context.Context, collection string, id string) (*model.Record, error) {
	var (
		raw       sql.NullString
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT data, updated_at FROM records WHERE collection = ? AND id = ?`), collection, id).Scan(&raw, &updatedAt)
	if err != nil {
		return nil, storageError(err)
	}
	data, err := s.decodeMap(raw)
	if err != nil {
		return nil, err
	}
	return &model.Record{Collection: collection, ID: id, Data: data, UpdatedAt: fromNanos(updatedAt)}, nil
}
