package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const usersEmailUniq = "users_email_key"

var tracer = observability.Tracer("accounthub/repo/postgres")

// DB is the slice of *pgxpool.Pool the repo needs.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

var (
	readWrite = pgx.TxOptions{}
	readOnly  = pgx.TxOptions{AccessMode: pgx.ReadOnly}
)

type UsersRepo struct {
	db   DB
	prom *observability.Prom
}

func NewUsersRepo(db DB, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{db: db, prom: prom}
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// inTx runs fn in its own transaction and commits when fn succeeds.
// Every repo operation goes through here, no transaction outlives one call.
func (r *UsersRepo) inTx(ctx context.Context, op string, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	span.SetAttributes(attribute.String("db.system", "postgresql"))

	err := r.prom.ObserveDB(op, func() error {
		tx, err := r.db.BeginTx(ctx, opts)
		if err != nil {
			return err
		}

		defer func() {
			_ = tx.Rollback(ctx)
		}()

		if err := fn(tx); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})

	if err != nil && !isUniqueViolation(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "db operation failed")
	}

	return err
}

// InsertIfAbsent creates the user unless the email is taken. The unique index on
// email arbitrates concurrent callers, ok=false means nothing was written.
func (r *UsersRepo) InsertIfAbsent(ctx context.Context, email, passwordHash, role string, createdAt time.Time) (u user.User, ok bool, err error) {
	err = r.inTx(ctx, "users.insert_if_absent", readWrite, func(tx pgx.Tx) error {
		e := tx.QueryRow(ctx, `
			INSERT INTO users (id, email, password_hash, role, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (email) DO NOTHING
			RETURNING id, email, password_hash, role, created_at
		`, uuid.NewString(), email, passwordHash, role, createdAt.UTC(),
		).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)

		if errors.Is(e, pgx.ErrNoRows) {
			// conflict: the row already exists
			return nil
		}
		if e != nil {
			return e
		}

		ok = true
		return nil
	})

	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, false, nil
		}
		return user.User{}, false, err
	}

	if !ok {
		return user.User{}, false, nil
	}

	return u, true, nil
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (u user.User, found bool, err error) {
	err = r.inTx(ctx, "users.find_by_email", readOnly, func(tx pgx.Tx) error {
		e := tx.QueryRow(ctx, `
			SELECT id, email, password_hash, role, created_at
			FROM users
			WHERE email = $1
		`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)

		if errors.Is(e, pgx.ErrNoRows) {
			return nil
		}
		if e != nil {
			return e
		}

		found = true
		return nil
	})

	if err != nil || !found {
		return user.User{}, false, err
	}

	return u, true, nil
}

// FindByRole returns the users tagged with role, oldest first.
func (r *UsersRepo) FindByRole(ctx context.Context, role string) (users []user.User, err error) {
	err = r.inTx(ctx, "users.find_by_role", readOnly, func(tx pgx.Tx) error {
		rows, e := tx.Query(ctx, `
			SELECT id, email, password_hash, role, created_at
			FROM users
			WHERE role = $1
			ORDER BY created_at ASC, id ASC
		`, role)
		if e != nil {
			return e
		}

		users, e = scanUsers(rows)
		return e
	})

	if err != nil {
		return nil, err
	}

	return users, nil
}

// ListAll scans the whole table. There is no pagination, which is only
// acceptable while the account table stays small.
func (r *UsersRepo) ListAll(ctx context.Context) (users []user.User, err error) {
	err = r.inTx(ctx, "users.list_all", readOnly, func(tx pgx.Tx) error {
		rows, e := tx.Query(ctx, `
			SELECT id, email, password_hash, role, created_at
			FROM users
			ORDER BY created_at ASC, id ASC
		`)
		if e != nil {
			return e
		}

		users, e = scanUsers(rows)
		return e
	})

	if err != nil {
		return nil, err
	}

	return users, nil
}

func (r *UsersRepo) DeleteByEmail(ctx context.Context, email string) (removed bool, err error) {
	err = r.inTx(ctx, "users.delete_by_email", readWrite, func(tx pgx.Tx) error {
		tag, e := tx.Exec(ctx, `DELETE FROM users WHERE email = $1`, email)
		if e != nil {
			return e
		}

		removed = tag.RowsAffected() > 0
		return nil
	})

	if err != nil {
		return false, err
	}

	return removed, nil
}

func scanUsers(rows pgx.Rows) ([]user.User, error) {
	defer rows.Close()

	out := make([]user.User, 0)

	for rows.Next() {
		var u user.User

		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}

		out = append(out, u)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && (pgErr.ConstraintName == "" || pgErr.ConstraintName == usersEmailUniq)
}
