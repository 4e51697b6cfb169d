package postgres

import (
	"context"
	"errors"
	"time"

	"expenseflow/expense-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultSessionTTL = 8 * time.Hour
	bcryptCost        = 10
)

var tracer = otel.Tracer("expense-service/store/postgres")

type Store struct {
	pool       *pgxpool.Pool
	sessionTTL time.Duration
	now        func() time.Time
}

type Options struct {
	SessionTTL time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	ttl := options.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Store{
		pool:       pool,
		sessionTTL: ttl,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// timestamp returns the current time at database precision so that values
// hashed before insert match what is read back.
func (s *Store) timestamp() time.Time {
	return s.now().Truncate(time.Microsecond)
}

func nextCode(ctx context.Context, tx pgx.Tx, companyCode, kind string) (string, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO tenant_sequences (company_code, kind, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_code, kind)
		DO UPDATE SET next_number = tenant_sequences.next_number + 1
		RETURNING next_number
	`, companyCode, kind)
	if err := row.Scan(&next); err != nil {
		return "", err
	}
	return store.FormatCode(kind, next), nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var constraintErrors = map[string]error{
	"companies_company_code_key":   store.ErrCompanyCodeTaken,
	"users_email_key":              store.ErrEmailTaken,
	"departments_company_name_key": store.ErrDepartmentNameTaken,
}

// translateError maps constraint violations to store sentinels and passes
// everything else through.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if pgErr.Code == uniqueViolation {
		if mapped, ok := constraintErrors[pgErr.ConstraintName]; ok {
			return mapped
		}
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
