package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"expensio/internal/expense/models"
	id "expensio/pkg/domain"
	"expensio/pkg/platform/sentinel"
	txcontext "expensio/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Postgres persists expenses with optimistic concurrency: every UPDATE
// carries the version the writer read, and a zero-row result means a
// concurrent transition won the race. Decisions are a JSONB column, written
// whole with the row.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const expenseColumns = `
	id, owner_id, company_id, amount, currency, category, description,
	expense_date, receipt_ref, status, current_tier, decisions, version,
	created_at, updated_at
`

func (s *Postgres) Create(ctx context.Context, expense *models.Expense) error {
	expense.Version = 1
	decisions, err := json.Marshal(expense.Decisions)
	if err != nil {
		return fmt.Errorf("marshal decisions: %w", err)
	}
	const query = `
		INSERT INTO expenses (` + expenseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(expense.ID), uuid.UUID(expense.OwnerID), uuid.UUID(expense.CompanyID),
		expense.Amount, expense.Currency, expense.Category, expense.Description,
		expense.Date, expense.ReceiptRef, string(expense.Status), expense.CurrentTier,
		decisions, expense.Version, expense.CreatedAt, expense.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, expenseID id.ExpenseID) (*models.Expense, error) {
	const query = `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1`
	return scanExpense(s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(expenseID)))
}

// Save writes the expense if expectedVersion still matches the stored row.
func (s *Postgres) Save(ctx context.Context, expense *models.Expense, expectedVersion int64) error {
	decisions, err := json.Marshal(expense.Decisions)
	if err != nil {
		return fmt.Errorf("marshal decisions: %w", err)
	}
	const query = `
		UPDATE expenses
		SET amount = $2, currency = $3, category = $4, description = $5,
		    expense_date = $6, receipt_ref = $7, status = $8, current_tier = $9,
		    decisions = $10, version = version + 1, updated_at = $11
		WHERE id = $1 AND version = $12
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(expense.ID), expense.Amount, expense.Currency, expense.Category,
		expense.Description, expense.Date, expense.ReceiptRef, string(expense.Status),
		expense.CurrentTier, decisions, expense.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Either the row is gone or a concurrent writer bumped the version.
		if _, findErr := s.FindByID(ctx, expense.ID); errors.Is(findErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	expense.Version = expectedVersion + 1
	return nil
}

// Execute validates and mutates a single expense under FOR UPDATE. Concurrent
// transition attempts serialize on the row lock; the loser re-validates
// against the winner's committed state.
func (s *Postgres) Execute(ctx context.Context, expenseID id.ExpenseID, validate func(*models.Expense) error, mutate func(*models.Expense)) (*models.Expense, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1 FOR UPDATE`
	expense, err := scanExpense(tx.QueryRowContext(ctx, query, uuid.UUID(expenseID)))
	if err != nil {
		return nil, err
	}
	if err := validate(expense); err != nil {
		return nil, err
	}
	mutate(expense)

	decisions, err := json.Marshal(expense.Decisions)
	if err != nil {
		return nil, fmt.Errorf("marshal decisions: %w", err)
	}
	// The mutate callback may touch any writable field, so the UPDATE covers
	// the same column set as Save.
	const update = `
		UPDATE expenses
		SET amount = $2, currency = $3, category = $4, description = $5,
		    expense_date = $6, receipt_ref = $7, status = $8, current_tier = $9,
		    decisions = $10, version = version + 1, updated_at = $11
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		uuid.UUID(expense.ID), expense.Amount, expense.Currency, expense.Category,
		expense.Description, expense.Date, expense.ReceiptRef, string(expense.Status),
		expense.CurrentTier, decisions, expense.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update expense: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	expense.Version++
	return expense, nil
}

func (s *Postgres) Delete(ctx context.Context, expenseID id.ExpenseID) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, uuid.UUID(expenseID))
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListByCompany(ctx context.Context, companyID id.CompanyID) ([]models.Expense, error) {
	const query = `SELECT ` + expenseColumns + ` FROM expenses WHERE company_id = $1 ORDER BY created_at DESC`
	return s.list(ctx, query, uuid.UUID(companyID))
}

func (s *Postgres) ListByOwner(ctx context.Context, ownerID id.UserID) ([]models.Expense, error) {
	const query = `SELECT ` + expenseColumns + ` FROM expenses WHERE owner_id = $1 ORDER BY created_at DESC`
	return s.list(ctx, query, uuid.UUID(ownerID))
}

func (s *Postgres) list(ctx context.Context, query string, arg any) ([]models.Expense, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var out []models.Expense
	for rows.Next() {
		expense, err := scanExpenseRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *expense)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row *sql.Row) (*models.Expense, error) {
	expense, err := scanExpenseRow(row)
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return expense, err
}

func scanExpenseRow(row rowScanner) (*models.Expense, error) {
	var (
		expense   models.Expense
		expenseID uuid.UUID
		ownerID   uuid.UUID
		companyID uuid.UUID
		status    string
		decisions []byte
	)
	err := row.Scan(&expenseID, &ownerID, &companyID, &expense.Amount,
		&expense.Currency, &expense.Category, &expense.Description, &expense.Date,
		&expense.ReceiptRef, &status, &expense.CurrentTier, &decisions,
		&expense.Version, &expense.CreatedAt, &expense.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan expense: %w", err)
	}
	if err := json.Unmarshal(decisions, &expense.Decisions); err != nil {
		return nil, fmt.Errorf("unmarshal decisions: %w", err)
	}
	expense.ID = id.ExpenseID(expenseID)
	expense.OwnerID = id.UserID(ownerID)
	expense.CompanyID = id.CompanyID(companyID)
	expense.Status = models.Status(status)
	return &expense, nil
}
