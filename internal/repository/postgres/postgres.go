package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
)

// queries runs statements against either the pool or an open transaction.
type queries struct {
	q sqlx.ExtContext
}

// Store implements repository.Store on PostgreSQL.
type Store struct {
	BaseRepository
	queries
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		BaseRepository: NewBaseRepository(db),
		queries:        queries{q: db},
	}
}

var _ repository.Store = (*Store)(nil)

type tx struct {
	queries
	sqlTx *sqlx.Tx
}

func (t *tx) Savepoint(ctx context.Context, name string, fn func() error) error {
	ident := savepointIdent(name)
	if _, err := t.sqlTx.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.sqlTx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	_, err := t.sqlTx.ExecContext(ctx, "RELEASE SAVEPOINT "+ident)
	return err
}

// WithDoctorTx locks the doctor row with SELECT ... FOR UPDATE so that
// concurrent mutations of the same doctor serialize.
func (s *Store) WithDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(repository.Tx, *model.Doctor) error) error {
	return s.WithTx(ctx, func(sqlTx *sqlx.Tx) error {
		t := &tx{queries: queries{q: sqlTx}, sqlTx: sqlTx}

		var doctor model.Doctor
		err := sqlx.GetContext(ctx, sqlTx, &doctor, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1 FOR UPDATE`, doctorID)
		if err != nil {
			return notFound(err)
		}
		return fn(t, &doctor)
	})
}

// savepointIdent quotes name for use as a savepoint identifier.
func savepointIdent(name string) string {
	if name == "" {
		name = "sp"
	}
	return pq.QuoteIdentifier(name)
}
