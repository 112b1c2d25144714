package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	dErrors "hivelog/pkg/domain-errors"
	"hivelog/pkg/platform/audit"
	hstrings "hivelog/pkg/platform/strings"
)

// ResolveRequest is the body of PATCH /api/error-logs/{id}/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

// CountResponse is returned by every /count route.
type AverageResponse struct {
	Operation string  `json:"operation"`
	AverageMs float64 `json:"averageDurationMs"`
}

type CountResponse struct {
	Kind  audit.Kind `json:"kind"`
	Count int64      `json:"count"`
}

// parseFilter reads filter and paging parameters. Unknown parameters are
// ignored; malformed ones are rejected.
func parseFilter(r *http.Request) (audit.Filter, audit.Page, error) {
	q := r.URL.Query()
	f := audit.Filter{
		CorrelationID: strings.TrimSpace(q.Get("correlationId")),
		ServiceName:   strings.TrimSpace(q.Get("serviceName")),
		UserID:        strings.TrimSpace(q.Get("userId")),
		Keyword:       strings.TrimSpace(q.Get("keyword")),

		AuditType:  audit.AuditType(upper(q, "auditType")),
		Action:     strings.TrimSpace(q.Get("action")),
		EntityType: strings.TrimSpace(q.Get("entityType")),
		EntityID:   strings.TrimSpace(q.Get("entityId")),
		Status:     audit.Status(upper(q, "status")),
		Severity:   audit.Severity(upper(q, "severity")),

		Level:         audit.LogLevel(upper(q, "level")),
		MinLevel:      audit.LogLevel(upper(q, "minLevel")),
		ExceptionType: strings.TrimSpace(q.Get("exceptionType")),

		HTTPMethod: upper(q, "httpMethod"),
		Endpoint:   strings.TrimSpace(q.Get("endpoint")),

		Operation:     strings.TrimSpace(q.Get("operation")),
		OperationType: strings.TrimSpace(q.Get("operationType")),
	}
	for _, t := range auditTypes(q) {
		f.AuditTypes = append(f.AuditTypes, audit.AuditType(t))
	}

	var err error
	if f.From, err = parseTime(q, "from"); err != nil {
		return f, audit.Page{}, err
	}
	if f.To, err = parseTime(q, "to"); err != nil {
		return f, audit.Page{}, err
	}
	if v := q.Get("resolved"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return f, audit.Page{}, invalid("resolved")
		}
		f.Resolved = &b
	}
	if f.StatusCode, err = parseInt(q, "statusCode"); err != nil {
		return f, audit.Page{}, err
	}
	if f.MinStatusCode, err = parseInt(q, "minStatusCode"); err != nil {
		return f, audit.Page{}, err
	}
	minDuration, err := parseInt(q, "minDurationMs")
	if err != nil {
		return f, audit.Page{}, err
	}
	f.MinDurationMs = int64(minDuration)
	if v := q.Get("slowOnly"); v != "" {
		if f.SlowOnly, err = strconv.ParseBool(v); err != nil {
			return f, audit.Page{}, invalid("slowOnly")
		}
	}

	var p audit.Page
	if p.Number, err = parseInt(q, "page"); err != nil {
		return f, p, err
	}
	if p.Size, err = parseInt(q, "size"); err != nil {
		return f, p, err
	}
	return f, p, nil
}

// auditTypes accepts both repeated and comma separated values.
func auditTypes(q url.Values) []string {
	values := make([]string, 0, len(q["auditTypes"]))
	for _, v := range q["auditTypes"] {
		values = append(values, strings.ToUpper(v))
	}
	return hstrings.SplitList(values...)
}

func upper(q url.Values, key string) string {
	return strings.ToUpper(strings.TrimSpace(q.Get(key)))
}

func parseInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalid(key)
	}
	return n, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	t, err := audit.ParseLocalTime(strings.TrimSpace(q.Get(key)))
	if err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+key+" date")
	}
	return t.Time, nil
}

func invalid(key string) error {
	return dErrors.New(dErrors.CodeInvalidInput, "invalid "+key+" parameter")
}
