package notification

import "log/slog"

// SlogSink writes status changes to the structured log. It doubles as the
// default sink when no external transport is configured.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Name() string { return "slog" }

func (s *SlogSink) OnExpenseStatusChanged(event ExpenseStatusChanged) error {
	s.logger.Info("expense status changed",
		"expense_id", event.ExpenseID.String(),
		"company_id", event.CompanyID.String(),
		"owner_id", event.OwnerID.String(),
		"previous", string(event.Previous),
		"current", string(event.Current),
		"actor_id", event.ActorID.String(),
	)
	return nil
}
