package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"expensio/internal/audit"
	companymetrics "expensio/internal/company/metrics"
	"expensio/internal/company/models"
	"expensio/pkg/attrs"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/platform/sentinel"
	"expensio/pkg/requestcontext"
)

// Store is the persistence boundary for companies and workflow definitions.
type Store interface {
	CreateIfNameAvailable(ctx context.Context, company *models.Company) error
	FindByID(ctx context.Context, companyID id.CompanyID) (*models.Company, error)
	Exists(ctx context.Context, companyID id.CompanyID) (bool, error)
	SaveWorkflow(ctx context.Context, def *models.WorkflowDefinition) error
	FindWorkflow(ctx context.Context, companyID id.CompanyID) (*models.WorkflowDefinition, error)
}

// AuditPublisher records company administration events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates company and workflow definition management.
type Service struct {
	companies Store

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *companymetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithMetrics(m *companymetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(companies Store, opts ...Option) *Service {
	s := &Service{companies: companies, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCompany bootstraps a tenant.
func (s *Service) CreateCompany(ctx context.Context, name, defaultCurrency, country string) (*models.Company, error) {
	name = strings.TrimSpace(name)

	company, err := models.NewCompany(id.NewCompanyID(), name, defaultCurrency, country, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	if err := s.companies.CreateIfNameAvailable(ctx, company); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, dErrors.New(dErrors.CodeConflict, "company name must be unique")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create company")
	}

	s.emitAudit(ctx, audit.ActionCompanyCreated, company.ID, "company_name", company.Name)
	if s.metrics != nil {
		s.metrics.CompaniesCreated.Inc()
	}
	return company, nil
}

// GetCompany fetches company metadata.
func (s *Service) GetCompany(ctx context.Context, companyID id.CompanyID) (*models.Company, error) {
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "company not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load company")
	}
	return company, nil
}

// ConfigureWorkflow replaces a company's approval chain. Admin-only at the
// handler; this service validates the definition's structure.
func (s *Service) ConfigureWorkflow(ctx context.Context, companyID id.CompanyID, minAmount int64, tiers []models.Tier) (*models.WorkflowDefinition, error) {
	def := &models.WorkflowDefinition{
		CompanyID: companyID,
		MinAmount: minAmount,
		Tiers:     tiers,
		UpdatedAt: requestcontext.Now(ctx),
	}
	if err := def.Validate(); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	if err := s.companies.SaveWorkflow(ctx, def); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "company not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save workflow definition")
	}

	s.emitAudit(ctx, audit.ActionWorkflowConfigured, companyID, "tiers", len(tiers))
	if s.metrics != nil {
		s.metrics.WorkflowsConfigured.Inc()
	}
	return def, nil
}

// GetWorkflow returns the company's configured approval chain.
func (s *Service) GetWorkflow(ctx context.Context, companyID id.CompanyID) (*models.WorkflowDefinition, error) {
	def, err := s.companies.FindWorkflow(ctx, companyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "company not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load workflow definition")
	}
	return def, nil
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
		Subject:   attrs.ExtractString(attributes, "company_name"),
		Details:   audit.Details(attributes),
	})
}
