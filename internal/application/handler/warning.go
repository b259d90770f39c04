package handler

import (
	"context"

	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/event"
	"github.com/garyjia/case-event-handler/internal/domain/workflow"
)

// WarnAction is the only action value that triggers a warning. Matching is
// exact and case-sensitive.
const WarnAction = "Warn"

// Warning flags the case's processes in every category the table marks with
// the Warn action.
type Warning struct {
	base
}

// NewWarning creates the warning handler
func NewWarning(table TableConfig, deps Deps) *Warning {
	return &Warning{base: newBase("warning", table, deps)}
}

// CanHandle accepts every validated event
func (h *Warning) CanHandle(evt *event.Event) bool {
	return true
}

// EvaluateDmn sends the event id and the state transition
func (h *Warning) EvaluateDmn(ctx context.Context, evt *event.Event) ([]dmn.Row, error) {
	return h.evaluate(ctx, evt, stateTransitionVariables(evt))
}

// Handle sends one warnProcess message per distinct category among rows
// whose action is exactly WarnAction.
func (h *Warning) Handle(ctx context.Context, rows []dmn.Row, evt *event.Event) error {
	categories := categoriesWhere(rows, func(row dmn.Row) bool {
		return row.Action() == WarnAction
	})

	msgs := make([]workflow.SendMessageRequest, 0, len(categories))
	for _, category := range categories {
		msgs = append(msgs, workflow.NewCorrelatedMessage(workflow.MessageWarnProcess, evt.CaseID, category))
	}
	return h.sendAll(ctx, evt, msgs)
}
