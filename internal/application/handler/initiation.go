package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/event"
	"github.com/garyjia/case-event-handler/internal/domain/workflow"
)

// ErrInvalidWorkingDays marks a workingDaysAllowed outside 0..MaxWorkingDays
var ErrInvalidWorkingDays = errors.New("invalid workingDaysAllowed")

// Initiation starts a workflow process for every task the initiation table
// returns.
type Initiation struct {
	base
}

// NewInitiation creates the task initiation handler
func NewInitiation(table TableConfig, deps Deps) *Initiation {
	return &Initiation{base: newBase("initiation", table, deps)}
}

// CanHandle requires the post-event state, which the table keys on.
func (h *Initiation) CanHandle(evt *event.Event) bool {
	return evt.NewStateID != ""
}

// EvaluateDmn sends eventId, postEventState, now and the due date of the last
// modified direction, when the case carries one.
func (h *Initiation) EvaluateDmn(ctx context.Context, evt *event.Event) ([]dmn.Row, error) {
	vars := dmn.Variables{}.
		Set(inputEventID, evt.EventID).
		Set(inputPostEventState, evt.NewStateID).
		Set(inputNow, event.FormatLocalDateTime(h.now())).
		Set(inputDirectionDueDate, evt.GetDataString("lastModifiedDirection", "directionDueDate"))

	return h.evaluate(ctx, evt, vars)
}

// Handle sends one createTaskMessage per row naming a task.
func (h *Initiation) Handle(ctx context.Context, rows []dmn.Row, evt *event.Event) error {
	var (
		msgs []workflow.SendMessageRequest
		errs []error
	)
	for _, row := range rows {
		if row.String(dmn.ColumnTaskID) == "" {
			continue
		}
		msg, err := h.createTaskMessage(row, evt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}

	if err := h.sendAll(ctx, evt, msgs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (h *Initiation) createTaskMessage(row dmn.Row, evt *event.Event) (workflow.SendMessageRequest, error) {
	taskID := row.String(dmn.ColumnTaskID)

	workingDays := 0
	if v, ok := row.Get(dmn.ColumnWorkingDaysAllowed); ok && !v.IsEmpty() {
		n, err := v.Int()
		if err != nil {
			return workflow.SendMessageRequest{}, fmt.Errorf("task %s: %w", taskID, err)
		}
		if n < 0 || n > MaxWorkingDays {
			return workflow.SendMessageRequest{}, fmt.Errorf("task %s: %w: %d", taskID, ErrInvalidWorkingDays, n)
		}
		workingDays = n
	}

	start := h.now()
	if evt.EventTimeStamp != nil {
		start = evt.EventTimeStamp.Time
	}

	vars := dmn.Variables{}.
		Set(workflow.VarTaskID, taskID).
		Set(workflow.VarName, row.String(dmn.ColumnName)).
		Set(workflow.VarGroup, row.String(dmn.ColumnGroup)).
		Set(workflow.VarTaskCategory, row.TaskCategory()).
		Set(workflow.VarJurisdiction, evt.JurisdictionID).
		Set(workflow.VarCaseType, evt.CaseTypeID).
		Set(workflow.VarCaseID, evt.CaseID).
		Set(workflow.VarIdempotencyKey, evt.EventInstanceID+"-"+taskID).
		Set(workflow.VarDueDate, event.FormatLocalDateTime(AddWorkingDays(start, workingDays)))

	return workflow.SendMessageRequest{
		MessageName:      workflow.MessageCreateTask,
		ProcessVariables: vars,
	}, nil
}
