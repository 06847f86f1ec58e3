package store

import (
	"context"
	"strings"
	"sync"

	"expensio/internal/company/models"
	id "expensio/pkg/domain"
	"expensio/pkg/platform/sentinel"
)

// InMemory keeps companies and their workflow definitions behind one lock.
type InMemory struct {
	mu        sync.RWMutex
	companies map[id.CompanyID]models.Company
	workflows map[id.CompanyID]models.WorkflowDefinition
}

func NewInMemory() *InMemory {
	return &InMemory{
		companies: make(map[id.CompanyID]models.Company),
		workflows: make(map[id.CompanyID]models.WorkflowDefinition),
	}
}

// CreateIfNameAvailable inserts the company unless the name is taken,
// compared case-insensitively.
func (s *InMemory) CreateIfNameAvailable(_ context.Context, company *models.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.companies {
		if strings.EqualFold(existing.Name, company.Name) {
			return sentinel.ErrAlreadyExists
		}
	}
	s.companies[company.ID] = *company
	return nil
}

func (s *InMemory) FindByID(_ context.Context, companyID id.CompanyID) (*models.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	company, ok := s.companies[companyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := company
	return &copied, nil
}

func (s *InMemory) Exists(_ context.Context, companyID id.CompanyID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.companies[companyID]
	return ok, nil
}

// SaveWorkflow replaces the company's workflow definition.
func (s *InMemory) SaveWorkflow(_ context.Context, def *models.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.companies[def.CompanyID]; !ok {
		return sentinel.ErrNotFound
	}
	s.workflows[def.CompanyID] = *def
	return nil
}

// FindWorkflow returns the company's workflow definition. A company with no
// stored definition gets an empty (zero-tier) one: auto-approval is explicit
// behavior, not an error path.
func (s *InMemory) FindWorkflow(_ context.Context, companyID id.CompanyID) (*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.companies[companyID]; !ok {
		return nil, sentinel.ErrNotFound
	}
	def, ok := s.workflows[companyID]
	if !ok {
		return &models.WorkflowDefinition{CompanyID: companyID}, nil
	}
	copied := def
	copied.Tiers = append([]models.Tier(nil), def.Tiers...)
	return &copied, nil
}
