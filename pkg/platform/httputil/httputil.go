// Package httputil writes JSON responses in the common response envelope:
//
//	{"success": true, "data": ..., "requestId": "...", "timestamp": "..."}
//	{"success": false, "error": {"code": "...", "message": "..."}, ...}
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "hivelog/pkg/domain-errors"
	"hivelog/pkg/requestcontext"
)

const timestampLayout = "2006-01-02T15:04:05.999999999"

// Envelope is the body of every API response.
type Envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess wraps data in a successful envelope.
func WriteSuccess(w http.ResponseWriter, r *http.Request, status int, data any) {
	WriteJSON(w, status, newEnvelope(r, true, data, nil))
}

// WriteError translates err into a failed envelope. Errors without a code
// are reported as internal errors, and internal messages are never exposed.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeInternal
	message := ""
	if de, ok := dErrors.As(err); ok {
		code = de.Code
		message = de.Message
	} else if errors.Is(err, http.ErrHandlerTimeout) {
		code = dErrors.CodeTimeout
	}
	if code == dErrors.CodeInternal {
		message = ""
	}
	WriteJSON(w, dErrors.HTTPStatus(code), newEnvelope(r, false, nil, &ErrorBody{Code: string(code), Message: message}))
}

func newEnvelope(r *http.Request, success bool, data any, errBody *ErrorBody) Envelope {
	env := Envelope{Success: success, Data: data, Error: errBody}
	if r == nil {
		return env
	}
	ctx := r.Context()
	env.RequestID = requestcontext.RequestID(ctx)
	env.Timestamp = requestcontext.Now(ctx).Local().Format(timestampLayout)
	return env
}
