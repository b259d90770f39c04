package handler

import (
	"context"

	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/event"
	"github.com/garyjia/case-event-handler/internal/domain/workflow"
)

// Cancellation cancels the case's open tasks in every category the
// cancellation table flags.
type Cancellation struct {
	base
}

// NewCancellation creates the task cancellation handler
func NewCancellation(table TableConfig, deps Deps) *Cancellation {
	return &Cancellation{base: newBase("cancellation", table, deps)}
}

// CanHandle accepts every validated event
func (h *Cancellation) CanHandle(evt *event.Event) bool {
	return true
}

// EvaluateDmn sends the event id and the state transition
func (h *Cancellation) EvaluateDmn(ctx context.Context, evt *event.Event) ([]dmn.Row, error) {
	return h.evaluate(ctx, evt, stateTransitionVariables(evt))
}

// Handle sends one cancelTasks message per distinct category among rows with
// a non-empty action.
func (h *Cancellation) Handle(ctx context.Context, rows []dmn.Row, evt *event.Event) error {
	categories := categoriesWhere(rows, func(row dmn.Row) bool {
		return row.Action() != ""
	})

	msgs := make([]workflow.SendMessageRequest, 0, len(categories))
	for _, category := range categories {
		msgs = append(msgs, workflow.NewCorrelatedMessage(workflow.MessageCancelTasks, evt.CaseID, category))
	}
	return h.sendAll(ctx, evt, msgs)
}
