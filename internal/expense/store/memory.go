package store

import (
	"context"
	"sort"
	"sync"

	"expensio/internal/expense/models"
	id "expensio/pkg/domain"
	"expensio/pkg/platform/sentinel"
)

// InMemory keeps expenses in a map guarded by a mutex. Execute provides the
// single-writer-at-a-time discipline the workflow relies on: validation and
// mutation of one expense happen under the lock, and the version bumps on
// every write.
type InMemory struct {
	mu       sync.RWMutex
	expenses map[id.ExpenseID]models.Expense
}

func NewInMemory() *InMemory {
	return &InMemory{expenses: make(map[id.ExpenseID]models.Expense)}
}

func (s *InMemory) Create(_ context.Context, expense *models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expenses[expense.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	expense.Version = 1
	s.expenses[expense.ID] = cloneExpense(*expense)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, expenseID id.ExpenseID) (*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expense, ok := s.expenses[expenseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := cloneExpense(expense)
	return &copied, nil
}

// Save replaces the stored expense if expectedVersion still matches. A stale
// writer gets ErrConflict and must re-read.
func (s *InMemory) Save(_ context.Context, expense *models.Expense, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.expenses[expense.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	expense.Version = expectedVersion + 1
	s.expenses[expense.ID] = cloneExpense(*expense)
	return nil
}

// Execute runs an atomic validate-then-mutate on one expense while holding
// the store lock. Two concurrent transition attempts serialize here; the
// second sees the first's effects during validation.
func (s *InMemory) Execute(_ context.Context, expenseID id.ExpenseID, validate func(*models.Expense) error, mutate func(*models.Expense)) (*models.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expense, ok := s.expenses[expenseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := cloneExpense(expense)
	if err := validate(&working); err != nil {
		return nil, err
	}
	mutate(&working)
	working.Version = expense.Version + 1
	s.expenses[expenseID] = cloneExpense(working)
	return &working, nil
}

func (s *InMemory) Delete(_ context.Context, expenseID id.ExpenseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expenses[expenseID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.expenses, expenseID)
	return nil
}

// ListByCompany returns the company's expenses, newest first.
func (s *InMemory) ListByCompany(_ context.Context, companyID id.CompanyID) ([]models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Expense
	for _, e := range s.expenses {
		if e.CompanyID == companyID {
			out = append(out, cloneExpense(e))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// ListByOwner returns one user's expenses, newest first.
func (s *InMemory) ListByOwner(_ context.Context, ownerID id.UserID) ([]models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Expense
	for _, e := range s.expenses {
		if e.OwnerID == ownerID {
			out = append(out, cloneExpense(e))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(expenses []models.Expense) {
	sort.Slice(expenses, func(i, j int) bool {
		return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
	})
}

// cloneExpense deep-copies the decision slice so callers never alias stored
// state.
func cloneExpense(e models.Expense) models.Expense {
	e.Decisions = append([]models.DecisionRecord(nil), e.Decisions...)
	return e
}
