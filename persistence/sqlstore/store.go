// Package sqlstore implements persistence.Store on database/sql for SQLite,
// Postgres (pgx) and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/util"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const mysqlDuplicateKeyName = 1061

type Config struct {
	Dialect      string
	DSN          string
	MaxOpenConns int
}

type Store struct {
	db       *sql.DB
	dialect  Dialect
	mapCodec util.EncoderDecoder[map[string]any]
}

var _ persistence.Store = new(Store)

func Open(ctx context.Context, conf Config) (*Store, error) {
	dialect, err := DialectByName(conf.Dialect)
	if err != nil {
		return nil, err
	}
	dsn := conf.DSN
	if dialect.Name == MySQL.Name {
		myConf, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		// compare-and-set updates rely on matched, not changed, row counts
		myConf.ClientFoundRows = true
		dsn = myConf.FormatDSN()
	}
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", dialect.Name, err)
	}
	if dialect.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	} else if conf.MaxOpenConns > 0 {
		db.SetMaxOpenConns(conf.MaxOpenConns)
	}
	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("sql store ready", zap.String("dialect", dialect.Name))
	return s, nil
}

// New wraps an open database. Call Migrate before use on an empty database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:       db,
		dialect:  dialect,
		mapCodec: util.NewJsonEncoderDecoder[map[string]any](),
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			var myErr *mysql.MySQLError
			if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKeyName {
				continue
			}
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageError(err)
	}
	return nil
}

func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	var sle persistence.StorageLayerError
	if errors.As(err, &sle) || errors.Is(err, persistence.ErrNotFound) || errors.Is(err, persistence.ErrConflict) || errors.Is(err, persistence.ErrNotClaimed) {
		return err
	}
	return persistence.StorageLayerError{Message: err.Error()}
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func (s *Store) encodeMap(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := s.mapCodec.Encode(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) decodeMap(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	m, err := s.mapCodec.Decode([]byte(raw.String))
	if err != nil {
		return nil, err
	}
	return *m, nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}
