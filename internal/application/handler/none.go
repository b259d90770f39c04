package handler

import (
	"context"

	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/event"
)

// None is a placeholder strategy that applies to no event. Its CanHandle
// always returns false.
type None struct{}

func (None) Name() string { return "none" }

func (None) CanHandle(*event.Event) bool { return false }

func (None) EvaluateDmn(context.Context, *event.Event) ([]dmn.Row, error) {
	return []dmn.Row{}, nil
}

func (None) Handle(context.Context, []dmn.Row, *event.Event) error { return nil }
