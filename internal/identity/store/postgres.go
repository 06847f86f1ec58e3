package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"expensio/internal/identity/models"
	id "expensio/pkg/domain"
	"expensio/pkg/platform/sentinel"
	txcontext "expensio/pkg/platform/tx"
)

// uniqueViolation is the postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// Postgres persists users in the users table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) CreateIfEmailAvailable(ctx context.Context, user *models.User) error {
	const query = `
		INSERT INTO users (id, company_id, role, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(user.ID), uuid.UUID(user.CompanyID), string(user.Role),
		strings.ToLower(user.Email), user.Name, user.PasswordHash,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	const query = `
		SELECT id, company_id, role, email, name, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`
	return s.scanUser(s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(userID)))
}

func (s *Postgres) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `
		SELECT id, company_id, role, email, name, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	return s.scanUser(s.q(ctx).QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

// Execute validates and mutates a single user under FOR UPDATE so concurrent
// role changes serialize at the row.
func (s *Postgres) Execute(ctx context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		SELECT id, company_id, role, email, name, password_hash, created_at, updated_at
		FROM users WHERE id = $1 FOR UPDATE
	`
	user, err := s.scanUser(tx.QueryRowContext(ctx, query, uuid.UUID(userID)))
	if err != nil {
		return nil, err
	}
	if err := validate(user); err != nil {
		return nil, err
	}
	mutate(user)

	const update = `
		UPDATE users SET role = $2, email = $3, name = $4, password_hash = $5, updated_at = $6
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		uuid.UUID(user.ID), string(user.Role), user.Email, user.Name,
		user.PasswordHash, user.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

func (s *Postgres) CountByCompanyAndRole(ctx context.Context, companyID id.CompanyID, role models.Role) (int, error) {
	var count int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE company_id = $1 AND role = $2`,
		uuid.UUID(companyID), string(role),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *Postgres) scanUser(row *sql.Row) (*models.User, error) {
	var (
		user      models.User
		userID    uuid.UUID
		companyID uuid.UUID
		role      string
	)
	err := row.Scan(&userID, &companyID, &role, &user.Email, &user.Name,
		&user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.ID = id.UserID(userID)
	user.CompanyID = id.CompanyID(companyID)
	user.Role = models.Role(role)
	return &user, nil
}
