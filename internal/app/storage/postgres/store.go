package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/signflow/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.OrganizationStore = (*Store)(nil)
var _ storage.DocumentStore = (*Store)(nil)
var _ storage.FolderStore = (*Store)(nil)
var _ storage.TagStore = (*Store)(nil)
var _ storage.PermissionStore = (*Store)(nil)
var _ storage.SignatureStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

const uniqueViolation = "23505"

// mapErr translates driver errors into the storage sentinels while keeping
// the original error in the chain.
func mapErr(kind string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w: %w", kind, storage.ErrNotFound, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %w", kind, storage.ErrDuplicate, err)
	}
	return err
}

// checkAffected returns sql.ErrNoRows when an update or delete touched nothing.
func checkAffected(kind string, result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return mapErr(kind, sql.ErrNoRows)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func now() time.Time {
	return time.Now().UTC()
}
