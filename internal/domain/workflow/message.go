package workflow

import (
	"github.com/garyjia/case-event-handler/internal/domain/dmn"
)

// Message names understood by the workflow engine.
const (
	MessageCreateTask  = "createTaskMessage"
	MessageCancelTasks = "cancelTasks"
	MessageWarnProcess = "warnProcess"
)

// Correlation and process variable names.
const (
	VarCaseID         = "caseId"
	VarTaskCategory   = "taskCategory"
	VarTaskID         = "taskId"
	VarName           = "name"
	VarGroup          = "group"
	VarJurisdiction   = "jurisdiction"
	VarCaseType       = "caseType"
	VarDueDate        = "dueDate"
	VarIdempotencyKey = "idempotencyKey"
)

// SendMessageRequest is a command for the workflow engine: deliver a named
// message to the processes matched by CorrelationKeys, or start a new
// process when no keys are given.
type SendMessageRequest struct {
	MessageName      string        `json:"messageName"`
	ProcessVariables dmn.Variables `json:"processVariables,omitempty"`
	CorrelationKeys  dmn.Variables `json:"correlationKeys,omitempty"`
	All              bool          `json:"all"`
}

// NewCorrelatedMessage builds a message delivered to every process of a case
// in the given task category.
func NewCorrelatedMessage(name, caseID, taskCategory string) SendMessageRequest {
	return SendMessageRequest{
		MessageName: name,
		CorrelationKeys: dmn.Variables{
			VarCaseID:       dmn.String(caseID),
			VarTaskCategory: dmn.String(taskCategory),
		},
		All: true,
	}
}
