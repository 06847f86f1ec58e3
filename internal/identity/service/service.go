package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"expensio/internal/audit"
	"expensio/internal/identity/models"
	"expensio/internal/jwttoken"
	"expensio/pkg/attrs"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/platform/sentinel"
	"expensio/pkg/requestcontext"
)

// UserStore is the persistence boundary for user accounts.
type UserStore interface {
	CreateIfEmailAvailable(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Execute(ctx context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error)
	CountByCompanyAndRole(ctx context.Context, companyID id.CompanyID, role models.Role) (int, error)
}

// CompanyChecker verifies a company exists before a user is attached to it.
type CompanyChecker interface {
	Exists(ctx context.Context, companyID id.CompanyID) (bool, error)
}

// AuditPublisher records admin-facing identity events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service resolves credentials to identities and manages user accounts.
type Service struct {
	users     UserStore
	companies CompanyChecker
	tokens    *jwttoken.Service
	accessTTL time.Duration

	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func New(users UserStore, companies CompanyChecker, tokens *jwttoken.Service, accessTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		users:     users,
		companies: companies,
		tokens:    tokens,
		accessTTL: accessTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies email+password and issues an access token.
// Bad email and bad password collapse into one error so accounts are not
// enumerable.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", nil, dErrors.New(dErrors.CodeUnauthenticated, "invalid email or password")
		}
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, dErrors.New(dErrors.CodeUnauthenticated, "invalid email or password")
	}

	token, err := s.tokens.GenerateAccessToken(user.ID.String(), user.CompanyID.String(), string(user.Role), s.accessTTL)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign access token")
	}
	return token, user, nil
}

// ResolveCredential validates a bearer token and confirms the referenced user
// still exists. A valid token for a deleted user is unauthenticated, not an
// internal error.
func (s *Service) ResolveCredential(ctx context.Context, token string) (models.Identity, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return models.Identity{}, err
	}

	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return models.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "invalid token subject")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "user no longer exists")
		}
		return models.Identity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user")
	}

	// Role and company come from the store, not the token: a role change or
	// reassignment takes effect on the next request, not at token expiry.
	return models.Identity{UserID: user.ID, CompanyID: user.CompanyID, Role: user.Role}, nil
}

// CreateUser registers a user under a company. Caller authorization (admin,
// same company) is enforced at the handler via the authz table; this service
// enforces referential integrity and uniqueness.
func (s *Service) CreateUser(ctx context.Context, companyID id.CompanyID, role models.Role, email, name, password string) (*models.User, error) {
	if len(password) < 8 {
		return nil, dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	exists, err := s.companies.Exists(ctx, companyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check company")
	}
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "company not found")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	user, err := models.NewUser(id.NewUserID(), companyID, role, email, name, string(hash), requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	if err := s.users.CreateIfEmailAvailable(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, dErrors.New(dErrors.CodeConflict, "email is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}

	s.emitAudit(ctx, audit.ActionUserCreated, user.CompanyID, "user_id", user.ID.String())
	return user, nil
}

// ChangeRole updates a user's role. Only an admin of the same company may do
// this; the same-company rule is re-checked here because the target user is
// loaded inside the store lock.
func (s *Service) ChangeRole(ctx context.Context, actor models.Identity, userID id.UserID, role models.Role) (*models.User, error) {
	if actor.Role != models.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins may change roles")
	}

	target, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user")
	}
	if target.CompanyID != actor.CompanyID {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}

	// Demoting the only admin would leave the company without anyone able to
	// manage users or the workflow.
	if target.Role == models.RoleAdmin && role != models.RoleAdmin {
		admins, err := s.users.CountByCompanyAndRole(ctx, actor.CompanyID, models.RoleAdmin)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count admins")
		}
		if admins <= 1 {
			return nil, dErrors.New(dErrors.CodeInvalidState, "a company must keep at least one admin")
		}
	}

	now := requestcontext.Now(ctx)
	user, err := s.users.Execute(ctx, userID,
		func(u *models.User) error {
			if u.CompanyID != actor.CompanyID {
				// Cross-tenant targets read as absent.
				return dErrors.New(dErrors.CodeNotFound, "user not found")
			}
			return nil
		},
		func(u *models.User) {
			u.ApplyRoleChange(role, now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, err
	}

	s.emitAudit(ctx, audit.ActionUserRoleChanged, user.CompanyID,
		"user_id", user.ID.String(), "role", string(role), "actor_id", actor.UserID.String())
	return user, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, companyID id.CompanyID, attributes ...any) {
	args := append(attributes, "event", action, "log_type", "audit")
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, action, args...)

	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Action:    action,
		CompanyID: companyID.String(),
		ActorID:   attrs.ExtractString(attributes, "actor_id"),
		Subject:   attrs.ExtractString(attributes, "user_id"),
		Details:   audit.Details(attributes),
	})
}
