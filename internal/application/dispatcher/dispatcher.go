package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/case-event-handler/internal/application/handler"
	"github.com/garyjia/case-event-handler/internal/application/port"
	"github.com/garyjia/case-event-handler/internal/domain/event"
)

// Dispatcher routes case events through the registered handlers
type Dispatcher interface {
	// Register appends a handler. Handlers run in registration order.
	Register(h handler.Handler)

	// ProcessMessage decodes, validates and dispatches one raw event.
	// It fails only with event.ErrDeserialization or event.ErrValidation;
	// handler failures are logged and never returned.
	ProcessMessage(ctx context.Context, raw []byte) error

	// Dispatch runs every applicable handler against a validated event and
	// returns the joined handler failures.
	Dispatch(ctx context.Context, evt *event.Event) error

	// ListHandlers returns registered handlers in execution order
	ListHandlers() []HandlerInfo
}

// Metrics receives dispatch outcomes
type Metrics interface {
	EventProcessed(outcome string, elapsed time.Duration)
	HandlerCompleted(handler, outcome string)
}

// Event outcomes
const (
	OutcomeRejected   = "rejected"
	OutcomeDisabled   = "disabled"
	OutcomeDispatched = "dispatched"
)

// Handler outcomes
const (
	HandlerSkipped = "skipped"
	HandlerNoMatch = "no_match"
	HandlerHandled = "handled"
	HandlerFailed  = "failed"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// eventDispatcher is the concrete implementation of Dispatcher
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers []HandlerInfo
	flags    port.FeatureFlagProvider
	logger   Logger
	metrics  Metrics
	tracer   trace.Tracer
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithTracer sets the tracer used for dispatch spans
func WithTracer(tracer trace.Tracer) Option {
	return func(d *eventDispatcher) {
		d.tracer = tracer
	}
}

// WithMetrics sets the outcome recorder
func WithMetrics(metrics Metrics) Option {
	return func(d *eventDispatcher) {
		d.metrics = metrics
	}
}

// WithHandlers registers handlers in the given order
func WithHandlers(handlers ...handler.Handler) Option {
	return func(d *eventDispatcher) {
		for _, h := range handlers {
			d.handlers = append(d.handlers, HandlerInfo{Name: h.Name(), Handler: h})
		}
	}
}

// NewDispatcher creates a new event dispatcher gated by flags
func NewDispatcher(flags port.FeatureFlagProvider, opts ...Option) Dispatcher {
	d := &eventDispatcher{
		flags:  flags,
		tracer: otel.Tracer("case-event-handler/dispatcher"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Register appends a handler
func (d *eventDispatcher) Register(h handler.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers = append(d.handlers, HandlerInfo{Name: h.Name(), Handler: h})

	if d.logger != nil {
		d.logger.Info("Handler registered",
			"handler_name", h.Name(),
			"position", len(d.handlers)-1,
		)
	}
}

// ProcessMessage decodes, validates and dispatches one raw event
func (d *eventDispatcher) ProcessMessage(ctx context.Context, raw []byte) error {
	ctx, span := d.tracer.Start(ctx, "dispatcher.ProcessMessage")
	defer span.End()

	start := time.Now()
	evt, err := event.Parse(raw)
	if err != nil {
		d.recordEvent(OutcomeRejected, start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid event")
		if d.logger != nil {
			d.logger.Error("Rejected case event", "error", err)
		}
		return err
	}

	span.SetAttributes(
		attribute.String("case_id", evt.CaseID),
		attribute.String("event_id", evt.EventID),
		attribute.String("jurisdiction_id", evt.JurisdictionID),
		attribute.String("case_type_id", evt.CaseTypeID),
	)

	if d.logger != nil {
		d.logger.Info("Case details",
			"case_id", evt.CaseID,
			"event_id", evt.EventID,
			"event_instance_id", evt.EventInstanceID,
			"jurisdiction_id", evt.JurisdictionID,
			"case_type_id", evt.CaseTypeID,
			"previous_state_id", evt.PreviousStateID,
			"new_state_id", evt.NewStateID,
		)
	}

	if d.flags == nil || !d.flags.IsEnabled(ctx, port.FeatureTaskInitiation) {
		if d.logger != nil {
			d.logger.Info("Task handling disabled, skipping event",
				"feature", port.FeatureTaskInitiation,
				"event_instance_id", evt.EventInstanceID,
			)
		}
		span.SetAttributes(attribute.Bool("feature_enabled", false))
		d.recordEvent(OutcomeDisabled, start)
		return nil
	}

	// Handler failures were already logged one by one.
	_ = d.Dispatch(ctx, evt)
	d.recordEvent(OutcomeDispatched, start)
	return nil
}

func (d *eventDispatcher) recordEvent(outcome string, start time.Time) {
	if d.metrics != nil {
		d.metrics.EventProcessed(outcome, time.Since(start))
	}
}

// Dispatch sends event to all registered handlers synchronously
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.RLock()
	handlers := make([]HandlerInfo, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	if d.logger != nil {
		d.logger.Info("Dispatching event",
			"event_instance_id", evt.EventInstanceID,
			"event_id", evt.EventID,
			"handler_count", len(handlers),
		)
	}

	var errs []error
	for _, info := range handlers {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"event_instance_id", evt.EventInstanceID,
					"case_id", evt.CaseID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			errs = append(errs, fmt.Errorf("handler %s failed: %w", info.Name, err))
		}
	}

	return errors.Join(errs...)
}

// ListHandlers returns registered handlers in execution order
func (d *eventDispatcher) ListHandlers() []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]HandlerInfo, len(d.handlers))
	for i, h := range d.handlers {
		// Handler value is not exposed
		result[i] = HandlerInfo{Name: h.Name}
	}

	return result
}

// run executes one handler: pre-check, evaluate, and handle non-empty rows.
func (d *eventDispatcher) run(ctx context.Context, evt *event.Event, h handler.Handler) (string, error) {
	if !h.CanHandle(evt) {
		return HandlerSkipped, nil
	}

	rows, err := h.EvaluateDmn(ctx, evt)
	if err != nil {
		return HandlerFailed, err
	}
	if len(rows) == 0 {
		return HandlerNoMatch, nil
	}

	if err := h.Handle(ctx, rows, evt); err != nil {
		return HandlerFailed, err
	}
	return HandlerHandled, nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.handler",
		trace.WithAttributes(attribute.String("handler_name", info.Name)))
	defer span.End()

	outcome := HandlerFailed
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Handler panic recovered",
					"event_instance_id", evt.EventInstanceID,
					"handler_name", info.Name,
					"panic", r,
				)
			}
		}
		if err != nil {
			outcome = HandlerFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		if d.metrics != nil {
			d.metrics.HandlerCompleted(info.Name, outcome)
		}
	}()

	outcome, err = d.run(ctx, evt, info.Handler)
	return err
}
