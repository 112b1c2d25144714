package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hivelog/pkg/platform/audit"
)

func TestWhereNumbersArguments(t *testing.T) {
	w := auditWhere(audit.Filter{
		CorrelationID: "c-1",
		Status:        audit.StatusFailure,
		Keyword:       "refund",
	})

	assert.Equal(t,
		" WHERE correlation_id = $1 AND status = $2 AND (action ILIKE $3 OR entity_type ILIKE $3 OR entity_id ILIKE $3"+
			" OR payload->>'username' ILIKE $3 OR payload->>'errorMessage' ILIKE $3"+
			" OR payload->>'oldValue' ILIKE $3 OR payload->>'newValue' ILIKE $3)",
		w.clause())
	assert.Equal(t, []any{"c-1", "FAILURE", "%refund%"}, w.args)
}

func TestWhereEmptyFilter(t *testing.T) {
	assert.Empty(t, auditWhere(audit.Filter{}).clause())
	assert.Empty(t, performanceWhere(audit.Filter{}).args)
}

func TestWhereMinLevelExpandsToSet(t *testing.T) {
	w := applicationWhere(audit.Filter{MinLevel: audit.LevelError})
	assert.Equal(t, " WHERE level = ANY($1::text[])", w.clause())
	assert.Len(t, w.args, 1)
}

func TestWhereRangeAndSlow(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := performanceWhere(audit.Filter{From: from, SlowOnly: true, MinDurationMs: 50})

	assert.Equal(t, " WHERE event_time >= $1 AND duration_ms >= $2 AND is_slow", w.clause())
	assert.True(t, w.args[0].(time.Time).Equal(from))
	assert.Equal(t, time.Local, w.args[0].(time.Time).Location())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_off\\`, escapeLike(`100%_off\`))
}
