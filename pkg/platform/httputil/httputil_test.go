package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dErrors "hivelog/pkg/domain-errors"
	"hivelog/pkg/requestcontext"
)

func newRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/audit-logs", nil)
	ctx := requestcontext.WithRequestID(r.Context(), "req-1")
	ctx = requestcontext.WithTime(ctx, time.Date(2024, 5, 1, 12, 30, 0, 0, time.Local))
	return r.WithContext(ctx)
}

func TestWriteError(t *testing.T) {
	t.Run("internal error omits message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, newRequest(), dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body Envelope
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body.Success {
			t.Fatalf("expected success=false")
		}
		if body.Error == nil || body.Error.Code != "internal_error" {
			t.Fatalf("expected error code internal_error, got %+v", body.Error)
		}
		if body.Error.Message != "" {
			t.Fatalf("expected message to be omitted for internal errors")
		}
	})

	t.Run("uncoded error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, newRequest(), errors.New("boom"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})

	t.Run("bad request includes message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, newRequest(), dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body Envelope
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body.Error.Code != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body.Error.Code)
		}
		if body.Error.Message != "invalid input" {
			t.Fatalf("expected message to be returned for bad request")
		}
		if body.RequestID != "req-1" {
			t.Fatalf("expected request id req-1, got %q", body.RequestID)
		}
	})
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, newRequest(), http.StatusOK, map[string]int{"count": 3})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["success"] != true {
		t.Fatalf("expected success=true")
	}
	if body["timestamp"] != "2024-05-01T12:30:00" {
		t.Fatalf("unexpected timestamp %v", body["timestamp"])
	}
	if _, ok := body["error"]; ok {
		t.Fatalf("expected error to be omitted")
	}
}
