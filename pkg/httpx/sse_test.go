package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendSSEText(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := SendSSEText(rec, rec, "message", "line one\nline two"); err != nil {
		t.Fatalf("send: %v", err)
	}
	want := "event: message\ndata: line one\ndata: line two\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !rec.Flushed {
		t.Fatalf("event was not flushed")
	}
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := SendSSEEvent(rec, rec, "done", map[string]string{"conversationId": "c1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	want := "event: done\ndata: {\"conversationId\":\"c1\"}\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusNotFound, "NOT_FOUND", "conversation not found: x")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	want := "{\"code\":\"NOT_FOUND\",\"message\":\"conversation not found: x\"}\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("body = %q", got)
	}
}

func TestRespondAppErrorHidesSystemDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondAppError(rec, errors.New("disk on fire"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	want := "{\"code\":\"SYSTEM_ERROR\",\"message\":\"internal server error\"}\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("body = %q", got)
	}
}
