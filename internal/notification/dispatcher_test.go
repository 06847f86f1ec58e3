package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"expensio/internal/expense/models"
	id "expensio/pkg/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	err    error
	events []ExpenseStatusChanged
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) OnExpenseStatusChanged(event ExpenseStatusChanged) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) received() []ExpenseStatusChanged {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExpenseStatusChanged(nil), s.events...)
}

type DispatcherSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.logger = slog.Default()
}

func (s *DispatcherSuite) event() ExpenseStatusChanged {
	return ExpenseStatusChanged{
		ExpenseID: id.NewExpenseID(),
		CompanyID: id.NewCompanyID(),
		OwnerID:   id.NewUserID(),
		Previous:  models.StatusPendingApproval,
		Current:   models.StatusApproved,
		ActorID:   id.NewUserID(),
		At:        time.Now(),
	}
}

// runAndStop publishes, lets Run drain the buffer on shutdown, and waits for
// the dispatcher goroutine to exit before assertions read sink state.
func (s *DispatcherSuite) runAndStop(d *Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	<-done
}

func (s *DispatcherSuite) TestDeliversToAllSinks() {
	first := &recordingSink{name: "first"}
	second := &recordingSink{name: "second"}
	d := NewDispatcher(8, s.logger, first, second)

	event := s.event()
	d.Publish(event)
	s.runAndStop(d)

	s.Require().Len(first.received(), 1)
	s.Require().Len(second.received(), 1)
	s.Equal(event.ExpenseID, first.received()[0].ExpenseID)
	s.Equal(models.StatusApproved, second.received()[0].Current)
}

func (s *DispatcherSuite) TestFullBufferDropsWithoutBlocking() {
	sink := &recordingSink{name: "slow"}
	d := NewDispatcher(2, s.logger, sink)

	// No consumer is running; the third publish must return immediately.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			d.Publish(s.event())
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.FailNow("Publish blocked on a full buffer")
	}

	s.runAndStop(d)
	s.Len(sink.received(), 2)
}

func (s *DispatcherSuite) TestSinkFailureDoesNotStopDelivery() {
	failing := &recordingSink{name: "failing", err: errors.New("sink down")}
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher(8, s.logger, failing, healthy)

	d.Publish(s.event())
	d.Publish(s.event())
	s.runAndStop(d)

	s.Empty(failing.received())
	s.Len(healthy.received(), 2)
}
