package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/garyjia/case-event-handler/internal/domain/dmn"
	"github.com/garyjia/case-event-handler/internal/domain/event"
	"github.com/garyjia/case-event-handler/internal/domain/workflow"
)

type evaluateCall struct {
	tableKey string
	tenantID string
	req      dmn.EvaluateRequest
}

type fakeEvaluator struct {
	mu    sync.Mutex
	rows  map[string][]dmn.Row
	err   error
	calls []evaluateCall
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, tableKey, tenantID string, req dmn.EvaluateRequest) ([]dmn.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, evaluateCall{tableKey: tableKey, tenantID: tenantID, req: req})
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[tableKey], nil
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []workflow.SendMessageRequest
	failWhen func(workflow.SendMessageRequest) bool
}

func (f *fakeSender) SendMessage(ctx context.Context, msg workflow.SendMessageRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.failWhen != nil && f.failWhen(msg) {
		return errors.New("workflow unavailable")
	}
	return nil
}

var fixedNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC) // Friday

func testDeps(ev *fakeEvaluator, s *fakeSender) Deps {
	return Deps{
		Evaluator: ev,
		Sender:    s,
		Now:       func() time.Time { return fixedNow },
	}
}

func testEvent() *event.Event {
	return &event.Event{
		EventInstanceID: "6f1a0f6e-0c2f-4c5e-9d33-0b0c6f0f3b7a",
		EventTimeStamp:  event.NewLocalDateTime(time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)),
		CaseID:          "1234567890123456",
		JurisdictionID:  "ia",
		CaseTypeID:      "asylum",
		EventID:         "submitAppeal",
		PreviousStateID: "appealStarted",
		NewStateID:      "appealSubmitted",
		UserID:          "user-1",
	}
}

func row(kv ...string) dmn.Row {
	r := dmn.Row{}
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i]] = dmn.String(kv[i+1])
	}
	return r
}
