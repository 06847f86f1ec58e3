package store

import (
	"context"
	"strings"
	"sync"

	"expensio/internal/identity/models"
	id "expensio/pkg/domain"
	"expensio/pkg/platform/sentinel"
)

// InMemory keeps users in a map guarded by a RWMutex. It favors clarity over
// performance and backs unit tests and single-process deployments.
type InMemory struct {
	mu      sync.RWMutex
	users   map[id.UserID]models.User
	byEmail map[string]id.UserID
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[id.UserID]models.User),
		byEmail: make(map[string]id.UserID),
	}
}

// CreateIfEmailAvailable inserts the user unless the email is already taken.
func (s *InMemory) CreateIfEmailAvailable(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, taken := s.byEmail[key]; taken {
		return sentinel.ErrAlreadyExists
	}
	s.users[user.ID] = *user
	s.byEmail[key] = user.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (s *InMemory) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	user := s.users[userID]
	return &user, nil
}

// Execute runs an atomic validate-then-mutate on one user while holding the
// store lock, so a role change cannot race with a concurrent update.
func (s *InMemory) Execute(_ context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(&user); err != nil {
		return nil, err
	}
	mutate(&user)
	s.users[userID] = user
	copied := user
	return &copied, nil
}

func (s *InMemory) CountByCompanyAndRole(_ context.Context, companyID id.CompanyID, role models.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, u := range s.users {
		if u.CompanyID == companyID && u.Role == role {
			count++
		}
	}
	return count, nil
}
