package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundgate/internal/verification"
	"fundgate/internal/webhook"
)

type completion struct {
	processID string
	desc      string
}

type fakeCompleter struct {
	outcome verification.Outcome
	err     error
	calls   []completion
}

func (f *fakeCompleter) CompleteFromProvider(ctx context.Context, processID, statusDescription string) (verification.Outcome, error) {
	f.calls = append(f.calls, completion{processID: processID, desc: statusDescription})
	return f.outcome, f.err
}

type fakeSink struct {
	responses map[string]json.RawMessage
}

func (f *fakeSink) RecordInboundResponse(ctx context.Context, processID string, response json.RawMessage) {
	if f.responses == nil {
		f.responses = make(map[string]json.RawMessage)
	}
	f.responses[processID] = response
}

func post(t *testing.T, h *webhook.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	h.Register(router)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func assertAcked(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestCallbackApplied(t *testing.T) {
	completer := &fakeCompleter{outcome: verification.OutcomeApplied}
	sink := &fakeSink{}
	h := webhook.New(completer, sink, slog.New(slog.DiscardHandler))

	rec := post(t, h, `{"ProcessId":"proc-1","Status":2,"StatusDescription":"Process Complete"}`)
	assertAcked(t, rec)

	require.Len(t, completer.calls, 1)
	assert.Equal(t, "proc-1", completer.calls[0].processID)
	assert.Equal(t, "Process Complete", completer.calls[0].desc)

	require.Contains(t, sink.responses, "proc-1")
	assert.JSONEq(t, `{"ProcessId":"proc-1","Status":2,"StatusDescription":"Process Complete"}`,
		string(sink.responses["proc-1"]))
}

func TestCallbackIncompleteStatus(t *testing.T) {
	completer := &fakeCompleter{outcome: verification.OutcomeApplied}
	sink := &fakeSink{}
	h := webhook.New(completer, sink, slog.New(slog.DiscardHandler))

	rec := post(t, h, `{"ProcessId":"proc-1","Status":1,"StatusDescription":"In Progress"}`)
	assertAcked(t, rec)

	// Not complete: acknowledged without touching the profile, but the
	// inbound attempt is still recorded.
	assert.Empty(t, completer.calls)
	assert.Contains(t, sink.responses, "proc-1")
}

func TestCallbackMalformedBody(t *testing.T) {
	completer := &fakeCompleter{outcome: verification.OutcomeApplied}
	h := webhook.New(completer, &fakeSink{}, slog.New(slog.DiscardHandler))

	rec := post(t, h, `{not json`)
	assertAcked(t, rec)
	assert.Empty(t, completer.calls)
}

func TestCallbackMissingProcessID(t *testing.T) {
	completer := &fakeCompleter{outcome: verification.OutcomeApplied}
	h := webhook.New(completer, &fakeSink{}, slog.New(slog.DiscardHandler))

	rec := post(t, h, `{"Status":2}`)
	assertAcked(t, rec)
	assert.Empty(t, completer.calls)
}

func TestCallbackUnknownProcess(t *testing.T) {
	completer := &fakeCompleter{outcome: verification.OutcomeUnknownProcess}
	h := webhook.New(completer, &fakeSink{}, slog.New(slog.DiscardHandler))

	rec := post(t, h, `{"ProcessId":"proc-x","Status":2}`)
	assertAcked(t, rec)
	require.Len(t, completer.calls, 1)
}

func TestCallbackReplay(t *testing.T) {
	completer := &fakeCompleter{outcome: verification.OutcomeApplied}
	h := webhook.New(completer, &fakeSink{}, slog.New(slog.DiscardHandler))

	body := `{"ProcessId":"proc-1","Status":2,"StatusDescription":"Process Complete"}`
	assertAcked(t, post(t, h, body))

	// The replay reaches the completer (no cache configured here) and the
	// completer reports it as a duplicate; the caller still gets a 200.
	completer.outcome = verification.OutcomeDuplicate
	assertAcked(t, post(t, h, body))
	assert.Len(t, completer.calls, 2)
}

func TestCallbackReconcileError(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("store down")}
	h := webhook.New(completer, &fakeSink{}, slog.New(slog.DiscardHandler))

	rec := post(t, h, `{"ProcessId":"proc-1","Status":2}`)
	assertAcked(t, rec)
}
