// Package handler holds the task handling strategies run by the dispatcher.
// Each strategy owns one decision table, the shape of the request sent to it
// and the rule deciding which result rows turn into workflow commands.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/case-event-handler/internal/application/port"
	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/event"
	"github.com/garyjia/case-event-handler/internal/domain/workflow"
)

// Handler is the capability set shared by every task strategy.
// EvaluateDmn must be called, and its result checked for emptiness, before
// Handle; Handle is never called with an empty row slice.
type Handler interface {
	// Name identifies the handler in logs
	Name() string

	// CanHandle is a cheap pre-check run before any remote call
	CanHandle(evt *event.Event) bool

	// EvaluateDmn queries the handler's decision table. It returns an empty,
	// non-nil slice when nothing matched.
	EvaluateDmn(ctx context.Context, evt *event.Event) ([]dmn.Row, error)

	// Handle turns actionable rows into workflow commands
	Handle(ctx context.Context, rows []dmn.Row, evt *event.Event) error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// TableConfig locates a handler's decision table
type TableConfig struct {
	// Prefix is joined with the jurisdiction and case type ids
	Prefix string

	// TenantScoped addresses the table under the jurisdiction's tenant
	TenantScoped bool
}

// Key returns the decision table key for evt
func (c TableConfig) Key(evt *event.Event) string {
	return fmt.Sprintf("%s-%s-%s", c.Prefix, evt.JurisdictionID, evt.CaseTypeID)
}

// Tenant returns the tenant id for evt, empty when the table is not tenant scoped
func (c TableConfig) Tenant(evt *event.Event) string {
	if !c.TenantScoped {
		return ""
	}
	return evt.JurisdictionID
}

// Deps are the collaborators shared by all handlers
type Deps struct {
	Evaluator port.DecisionEvaluator
	Sender    port.MessageSender
	Logger    Logger

	// Now defaults to time.Now
	Now func() time.Time
}

// base carries the plumbing common to the concrete handlers.
// It holds no per-event state.
type base struct {
	name      string
	table     TableConfig
	evaluator port.DecisionEvaluator
	sender    port.MessageSender
	logger    Logger
	now       func() time.Time
}

func newBase(name string, table TableConfig, deps Deps) base {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return base{
		name:      name,
		table:     table,
		evaluator: deps.Evaluator,
		sender:    deps.Sender,
		logger:    logger,
		now:       now,
	}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) evaluate(ctx context.Context, evt *event.Event, vars dmn.Variables) ([]dmn.Row, error) {
	key := b.table.Key(evt)
	rows, err := b.evaluator.Evaluate(ctx, key, b.table.Tenant(evt), dmn.NewEvaluateRequest(vars))
	if err != nil {
		return nil, fmt.Errorf("evaluate table %s: %w", key, err)
	}
	if rows == nil {
		return []dmn.Row{}, nil
	}
	return rows, nil
}

// sendAll submits every message, continuing past failures.
func (b *base) sendAll(ctx context.Context, evt *event.Event, msgs []workflow.SendMessageRequest) error {
	var errs []error
	for _, msg := range msgs {
		b.logger.Info("Sending workflow message",
			"handler", b.name,
			"message_name", msg.MessageName,
			"case_id", evt.CaseID,
			"event_instance_id", evt.EventInstanceID,
		)
		if err := b.sender.SendMessage(ctx, msg); err != nil {
			b.logger.Error("Workflow message failed",
				"handler", b.name,
				"message_name", msg.MessageName,
				"case_id", evt.CaseID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("send %s: %w", msg.MessageName, err))
		}
	}
	return errors.Join(errs...)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
