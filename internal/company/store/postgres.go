package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"expensio/internal/company/models"
	id "expensio/pkg/domain"
	"expensio/pkg/platform/sentinel"
	txcontext "expensio/pkg/platform/tx"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Postgres persists companies and workflow definitions. Tiers are stored as a
// JSONB column: the definition is read and replaced whole, never queried by
// tier.
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

func (s *Postgres) CreateIfNameAvailable(ctx context.Context, company *models.Company) error {
	const query = `
		INSERT INTO companies (id, name, default_currency, country, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(company.ID), company.Name, company.DefaultCurrency,
		company.Country, company.CreatedAt, company.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, companyID id.CompanyID) (*models.Company, error) {
	const query = `
		SELECT id, name, default_currency, country, created_at, updated_at
		FROM companies WHERE id = $1
	`
	var (
		company models.Company
		rawID   uuid.UUID
	)
	err := s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(companyID)).Scan(
		&rawID, &company.Name, &company.DefaultCurrency, &company.Country,
		&company.CreatedAt, &company.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan company: %w", err)
	}
	company.ID = id.CompanyID(rawID)
	return &company, nil
}

func (s *Postgres) Exists(ctx context.Context, companyID id.CompanyID) (bool, error) {
	var exists bool
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM companies WHERE id = $1)`, uuid.UUID(companyID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check company: %w", err)
	}
	return exists, nil
}

func (s *Postgres) SaveWorkflow(ctx context.Context, def *models.WorkflowDefinition) error {
	tiers, err := json.Marshal(def.Tiers)
	if err != nil {
		return fmt.Errorf("marshal tiers: %w", err)
	}
	const query = `
		INSERT INTO workflow_definitions (company_id, min_amount, tiers, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id) DO UPDATE
		SET min_amount = EXCLUDED.min_amount, tiers = EXCLUDED.tiers, updated_at = EXCLUDED.updated_at
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(def.CompanyID), def.MinAmount, tiers, def.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == foreignKeyViolation {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("upsert workflow definition: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) FindWorkflow(ctx context.Context, companyID id.CompanyID) (*models.WorkflowDefinition, error) {
	exists, err := s.Exists(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}

	const query = `
		SELECT min_amount, tiers, updated_at
		FROM workflow_definitions WHERE company_id = $1
	`
	def := models.WorkflowDefinition{CompanyID: companyID}
	var tiers []byte
	err = s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(companyID)).Scan(
		&def.MinAmount, &tiers, &def.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// No configured chain: zero tiers, expenses auto-approve.
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow definition: %w", err)
	}
	if err := json.Unmarshal(tiers, &def.Tiers); err != nil {
		return nil, fmt.Errorf("unmarshal tiers: %w", err)
	}
	return &def, nil
}
