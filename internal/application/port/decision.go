package port

import (
	"context"
	"errors"

	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/workflow"
)

var (
	// ErrRemoteEvaluation marks a transport failure or non-success status
	// from the decision table evaluator.
	ErrRemoteEvaluation = errors.New("remote decision evaluation failed")

	// ErrRemoteDispatch marks a failed command submission to the workflow engine.
	ErrRemoteDispatch = errors.New("remote command dispatch failed")
)

// DecisionEvaluator evaluates a remotely hosted decision table.
// An empty tenantID addresses the table without tenant scoping.
// Implementations return an empty, non-nil slice when no rule matched.
type DecisionEvaluator interface {
	Evaluate(ctx context.Context, tableKey, tenantID string, req dmn.EvaluateRequest) ([]dmn.Row, error)
}

// MessageSender submits commands to the workflow engine
type MessageSender interface {
	SendMessage(ctx context.Context, msg workflow.SendMessageRequest) error
}

// ServiceTokenGenerator issues the service-to-service token attached to
// outbound workflow API calls.
type ServiceTokenGenerator interface {
	Generate(ctx context.Context) (string, error)
}
