package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/garyjia/case-event-handler/internal/application/handler"
	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/event"
	"github.com/garyjia/case-event-handler/internal/domain/workflow"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu      sync.Mutex
	infos   []string
	errors  []string
	entries []map[string]interface{}
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
	m.entries = append(m.entries, toEntry(msg, "info", keysAndValues))
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
	m.entries = append(m.entries, toEntry(msg, "error", keysAndValues))
}

func toEntry(msg, level string, keysAndValues []interface{}) map[string]interface{} {
	entry := map[string]interface{}{"msg": msg, "level": level}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		entry[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return entry
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

// staticFlags enables every flag when on is true
type staticFlags struct {
	on bool
}

func (f staticFlags) IsEnabled(ctx context.Context, flag string) bool {
	return f.on
}

// recordingHandler records each stage it reaches
type recordingHandler struct {
	name      string
	canHandle bool
	rows      []dmn.Row
	evalErr   error
	handleErr error
	panicMsg  string

	mu      sync.Mutex
	evals   int
	handles int
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) CanHandle(evt *event.Event) bool { return h.canHandle }

func (h *recordingHandler) EvaluateDmn(ctx context.Context, evt *event.Event) ([]dmn.Row, error) {
	h.mu.Lock()
	h.evals++
	h.mu.Unlock()
	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	if h.evalErr != nil {
		return nil, h.evalErr
	}
	return h.rows, nil
}

func (h *recordingHandler) Handle(ctx context.Context, rows []dmn.Row, evt *event.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(rows) == 0 {
		panic("handle called with empty rows")
	}
	h.handles++
	return h.handleErr
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evals, h.handles
}

// stubWorkflow serves canned decision rows by table key and records messages
type stubWorkflow struct {
	mu    sync.Mutex
	rows  map[string][]dmn.Row
	evals int
	sent  []workflow.SendMessageRequest
}

func (s *stubWorkflow) Evaluate(ctx context.Context, tableKey, tenantID string, req dmn.EvaluateRequest) ([]dmn.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals++
	return s.rows[tableKey], nil
}

func (s *stubWorkflow) SendMessage(ctx context.Context, msg workflow.SendMessageRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubWorkflow) Sent() []workflow.SendMessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]workflow.SendMessageRequest, len(s.sent))
	copy(out, s.sent)
	return out
}

const validEvent = `{
	"EventInstanceId": "e1",
	"EventTimeStamp": "2024-03-14T12:00:00",
	"CaseId": "C1",
	"JurisdictionId": "IA",
	"CaseTypeId": "Asylum",
	"EventId": "submitAppeal",
	"NewStateId": "appealSubmitted",
	"UserId": "U1"
}`

func realHandlers(stub *stubWorkflow) []handler.Handler {
	deps := handler.Deps{Evaluator: stub, Sender: stub}
	return []handler.Handler{
		handler.NewInitiation(handler.TableConfig{Prefix: "wa-task-initiation", TenantScoped: true}, deps),
		handler.NewCancellation(handler.TableConfig{Prefix: "wa-task-cancellation", TenantScoped: true}, deps),
		handler.NewWarning(handler.TableConfig{Prefix: "wa-task-cancellation"}, deps),
	}
}

func TestNewDispatcher(t *testing.T) {
	t.Run("registers handlers in order", func(t *testing.T) {
		a := &recordingHandler{name: "a"}
		b := &recordingHandler{name: "b"}
		logger := &mockLogger{}
		d := NewDispatcher(staticFlags{on: true}, WithLogger(logger), WithHandlers(a, b))
		d.Register(handler.None{})

		handlers := d.ListHandlers()
		if len(handlers) != 3 {
			t.Fatalf("expected 3 handlers, got %d", len(handlers))
		}
		for i, want := range []string{"a", "b", "none"} {
			if handlers[i].Name != want {
				t.Errorf("handler %d: expected %s, got %s", i, want, handlers[i].Name)
			}
			if handlers[i].Handler != nil {
				t.Error("expected handler value not to be exposed")
			}
		}
		if !logger.HasInfo("Handler registered") {
			t.Error("expected registration to be logged")
		}
	})
}

func TestProcessMessage_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "malformed json", raw: `{"CaseId":`, wantErr: event.ErrDeserialization},
		{name: "wrong type", raw: `{"CaseId": 42}`, wantErr: event.ErrDeserialization},
		{name: "empty instance id", raw: strings.Replace(validEvent, `"e1"`, `""`, 1), wantErr: event.ErrValidation},
		{name: "missing user id", raw: strings.Replace(validEvent, `"UserId": "U1"`, `"UserId": null`, 1), wantErr: event.ErrValidation},
		{name: "empty case id", raw: strings.Replace(validEvent, `"C1"`, `""`, 1), wantErr: event.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{name: "h", canHandle: true, rows: []dmn.Row{{}}}
			stub := &stubWorkflow{}
			d := NewDispatcher(staticFlags{on: true}, WithHandlers(append(realHandlers(stub), h)...))

			err := d.ProcessMessage(context.Background(), []byte(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if evals, _ := h.counts(); evals != 0 {
				t.Error("expected no handler to be invoked")
			}
			if stub.evals != 0 || len(stub.Sent()) != 0 {
				t.Error("expected no remote call")
			}
		})
	}

	t.Run("validation is distinct from deserialization", func(t *testing.T) {
		d := NewDispatcher(staticFlags{on: true})
		err := d.ProcessMessage(context.Background(), []byte(`{}`))
		if !errors.Is(err, event.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if errors.Is(err, event.ErrDeserialization) {
			t.Error("validation error must not match deserialization")
		}
	})
}

func TestProcessMessage_FeatureGateOff(t *testing.T) {
	logger := &mockLogger{}
	stub := &stubWorkflow{rows: map[string][]dmn.Row{
		"wa-task-cancellation-ia-asylum": {{dmn.ColumnAction: dmn.String("Cancel")}},
	}}
	d := NewDispatcher(staticFlags{on: false}, WithLogger(logger), WithHandlers(realHandlers(stub)...))

	if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stub.evals != 0 {
		t.Errorf("expected no evaluation, got %d", stub.evals)
	}
	if len(stub.Sent()) != 0 {
		t.Error("expected no command")
	}
	if !logger.HasInfo("Task handling disabled, skipping event") {
		t.Error("expected gate-off path to be logged")
	}
}

func TestProcessMessage_NilFlagsTreatedAsOff(t *testing.T) {
	h := &recordingHandler{name: "h", canHandle: true}
	d := NewDispatcher(nil, WithHandlers(h))

	if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if evals, _ := h.counts(); evals != 0 {
		t.Error("expected handler not to run")
	}
}

func TestDispatch_HandlerLifecycle(t *testing.T) {
	t.Run("skips handler that cannot handle", func(t *testing.T) {
		h := &recordingHandler{name: "h", canHandle: false, rows: []dmn.Row{{}}}
		d := NewDispatcher(staticFlags{on: true}, WithHandlers(h))

		if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if evals, handles := h.counts(); evals != 0 || handles != 0 {
			t.Errorf("expected no calls, got evals=%d handles=%d", evals, handles)
		}
	})

	t.Run("empty rows never reach handle", func(t *testing.T) {
		empty := &recordingHandler{name: "empty", canHandle: true, rows: []dmn.Row{}}
		nilRows := &recordingHandler{name: "nil", canHandle: true}
		d := NewDispatcher(staticFlags{on: true}, WithHandlers(empty, nilRows))

		if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, h := range []*recordingHandler{empty, nilRows} {
			evals, handles := h.counts()
			if evals != 1 || handles != 0 {
				t.Errorf("%s: expected evals=1 handles=0, got evals=%d handles=%d", h.name, evals, handles)
			}
		}
	})

	t.Run("non-empty rows are handled", func(t *testing.T) {
		h := &recordingHandler{name: "h", canHandle: true, rows: []dmn.Row{{dmn.ColumnAction: dmn.String("Cancel")}}}
		d := NewDispatcher(staticFlags{on: true}, WithHandlers(h))

		if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, handles := h.counts(); handles != 1 {
			t.Errorf("expected one handle call, got %d", handles)
		}
	})
}

func TestDispatch_HandlerFailuresAreIsolated(t *testing.T) {
	logger := &mockLogger{}
	failingEval := &recordingHandler{name: "failing-eval", canHandle: true, evalErr: errors.New("evaluator down")}
	panicking := &recordingHandler{name: "panicking", canHandle: true, panicMsg: "boom"}
	failingHandle := &recordingHandler{name: "failing-handle", canHandle: true, rows: []dmn.Row{{}}, handleErr: errors.New("dispatch down")}
	last := &recordingHandler{name: "last", canHandle: true, rows: []dmn.Row{{}}}

	d := NewDispatcher(staticFlags{on: true},
		WithLogger(logger),
		WithTracer(noop.NewTracerProvider().Tracer("test")),
		WithHandlers(failingEval, panicking, failingHandle, last),
	)

	if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
		t.Fatalf("handler failures must not surface, got %v", err)
	}

	if _, handles := last.counts(); handles != 1 {
		t.Error("expected last handler to run after earlier failures")
	}
	if evals, _ := failingEval.counts(); evals != 1 {
		t.Errorf("expected failing handler not to be retried, got %d evaluations", evals)
	}
	// one per failing handler plus the panic recovery line
	if logger.ErrorCount() != 4 {
		t.Errorf("expected 4 error logs, got %d", logger.ErrorCount())
	}

	evt, err := event.Parse([]byte(validEvent))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	err = d.Dispatch(context.Background(), evt)
	if err == nil {
		t.Fatal("expected Dispatch to report joined failures")
	}
	for _, name := range []string{"failing-eval", "panicking", "failing-handle"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("expected joined error to mention %s: %v", name, err)
		}
	}
	if strings.Contains(err.Error(), "handler last") {
		t.Error("successful handler must not appear in failures")
	}
}

func TestProcessMessage_CancellationScenario(t *testing.T) {
	stub := &stubWorkflow{rows: map[string][]dmn.Row{
		"wa-task-cancellation-ia-asylum": {{
			dmn.ColumnAction:       dmn.String("cancel"),
			dmn.ColumnTaskCategory: dmn.String("someCategory"),
		}},
	}}
	d := NewDispatcher(staticFlags{on: true}, WithHandlers(realHandlers(stub)...))

	if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := stub.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected exactly one command, got %d", len(sent))
	}
	if sent[0].MessageName != workflow.MessageCancelTasks {
		t.Errorf("expected %s, got %s", workflow.MessageCancelTasks, sent[0].MessageName)
	}
	if got := sent[0].CorrelationKeys[workflow.VarTaskCategory].Raw; got != "someCategory" {
		t.Errorf("expected category someCategory, got %s", got)
	}
	if got := sent[0].CorrelationKeys[workflow.VarCaseID].Raw; got != "C1" {
		t.Errorf("expected case C1, got %s", got)
	}
	if stub.evals != 3 {
		t.Errorf("expected every handler to evaluate, got %d", stub.evals)
	}
}

func TestProcessMessage_EmptyCancellationTable(t *testing.T) {
	stub := &stubWorkflow{rows: map[string][]dmn.Row{
		"wa-task-cancellation-ia-asylum": {},
		"wa-task-initiation-ia-asylum": {{
			dmn.ColumnTaskID: dmn.String("processApplication"),
		}},
	}}
	d := NewDispatcher(staticFlags{on: true}, WithHandlers(realHandlers(stub)...))

	if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := stub.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected only the initiation command, got %d", len(sent))
	}
	if sent[0].MessageName != workflow.MessageCreateTask {
		t.Errorf("expected %s, got %s", workflow.MessageCreateTask, sent[0].MessageName)
	}
}

func TestProcessMessage_WarnIsExactMatch(t *testing.T) {
	for _, action := range []string{"Warn", "warn", "WARN", "Warning", " Warn"} {
		t.Run(action, func(t *testing.T) {
			stub := &stubWorkflow{rows: map[string][]dmn.Row{
				"wa-task-cancellation-ia-asylum": {{
					dmn.ColumnAction:       dmn.String(action),
					dmn.ColumnTaskCategory: dmn.String("followUp"),
				}},
			}}
			warning := handler.NewWarning(handler.TableConfig{Prefix: "wa-task-cancellation"},
				handler.Deps{Evaluator: stub, Sender: stub})
			d := NewDispatcher(staticFlags{on: true}, WithHandlers(warning))

			if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			sent := len(stub.Sent())
			if action == "Warn" && sent != 1 {
				t.Errorf("expected one warning command, got %d", sent)
			}
			if action != "Warn" && sent != 0 {
				t.Errorf("expected no warning command for %q, got %d", action, sent)
			}
		})
	}
}

func TestProcessMessage_Idempotent(t *testing.T) {
	stub := &stubWorkflow{rows: map[string][]dmn.Row{
		"wa-task-initiation-ia-asylum": {{
			dmn.ColumnTaskID:             dmn.String("processApplication"),
			dmn.ColumnWorkingDaysAllowed: dmn.Integer(2),
		}},
		"wa-task-cancellation-ia-asylum": {{
			dmn.ColumnAction:       dmn.String("Warn"),
			dmn.ColumnTaskCategory: dmn.String("followUp"),
		}},
	}}
	d := NewDispatcher(staticFlags{on: true}, WithHandlers(realHandlers(stub)...))

	if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := stub.Sent()

	if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	all := stub.Sent()
	second := all[len(first):]

	if len(first) != 3 {
		t.Fatalf("expected 3 commands per run, got %d", len(first))
	}
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Errorf("expected identical commands\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestProcessMessage_Concurrent(t *testing.T) {
	stub := &stubWorkflow{rows: map[string][]dmn.Row{
		"wa-task-cancellation-ia-asylum": {{
			dmn.ColumnAction:       dmn.String("Cancel"),
			dmn.ColumnTaskCategory: dmn.String("followUp"),
		}},
	}}
	d := NewDispatcher(staticFlags{on: true}, WithHandlers(realHandlers(stub)...))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(stub.Sent()); got != 20 {
		t.Errorf("expected 20 cancellation commands, got %d", got)
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	events   []string
	handlers map[string]string
}

func (m *recordingMetrics) EventProcessed(outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, outcome)
}

func (m *recordingMetrics) HandlerCompleted(handler, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = map[string]string{}
	}
	m.handlers[handler] = outcome
}

func TestProcessMessage_Metrics(t *testing.T) {
	metrics := &recordingMetrics{}
	d := NewDispatcher(staticFlags{on: true},
		WithMetrics(metrics),
		WithHandlers(
			&recordingHandler{name: "skipped"},
			&recordingHandler{name: "no-match", canHandle: true},
			&recordingHandler{name: "handled", canHandle: true, rows: []dmn.Row{{}}},
			&recordingHandler{name: "failed", canHandle: true, evalErr: errors.New("down")},
			&recordingHandler{name: "panicked", canHandle: true, panicMsg: "boom"},
		),
	)

	if err := d.ProcessMessage(context.Background(), []byte(validEvent)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = d.ProcessMessage(context.Background(), []byte(`{}`))

	want := map[string]string{
		"skipped":  HandlerSkipped,
		"no-match": HandlerNoMatch,
		"handled":  HandlerHandled,
		"failed":   HandlerFailed,
		"panicked": HandlerFailed,
	}
	for name, outcome := range want {
		if metrics.handlers[name] != outcome {
			t.Errorf("%s: expected %s, got %s", name, outcome, metrics.handlers[name])
		}
	}
	if fmt.Sprint(metrics.events) != fmt.Sprint([]string{OutcomeDispatched, OutcomeRejected}) {
		t.Errorf("unexpected event outcomes %v", metrics.events)
	}

	off := &recordingMetrics{}
	_ = NewDispatcher(staticFlags{on: false}, WithMetrics(off)).ProcessMessage(context.Background(), []byte(validEvent))
	if len(off.events) != 1 || off.events[0] != OutcomeDisabled {
		t.Errorf("expected disabled outcome, got %v", off.events)
	}
}
