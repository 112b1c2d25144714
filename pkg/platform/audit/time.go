package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// LocalLayout is the wire layout for timestamps: ISO-8601 without a zone.
const LocalLayout = "2006-01-02T15:04:05.999999999"

// LocalTime is a timestamp that travels without zone information. It is
// written in the process local zone and read back into it.
type LocalTime struct {
	time.Time
}

// NewLocalTime wraps t, converting it to the local zone.
func NewLocalTime(t time.Time) LocalTime {
	if t.IsZero() {
		return LocalTime{}
	}
	return LocalTime{Time: t.Round(0).Local()}
}

// String formats the time using LocalLayout.
func (t LocalTime) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(LocalLayout)
}

func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON accepts the local layout, a date-only value and, for
// producers that send zoned values, RFC 3339.
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = LocalTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("local time must be a string: %w", err)
	}
	parsed, err := ParseLocalTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseLocalTime parses s in the local zone.
func ParseLocalTime(s string) (LocalTime, error) {
	if s == "" {
		return LocalTime{}, nil
	}
	if parsed, err := time.ParseInLocation(LocalLayout, s, time.Local); err == nil {
		return LocalTime{Time: parsed}, nil
	}
	if parsed, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return LocalTime{Time: parsed}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return LocalTime{}, fmt.Errorf("parse local time %q: %w", s, err)
	}
	return NewLocalTime(parsed), nil
}

// OpaqueID is an identifier the pipeline never interprets. Producers send
// it either as a JSON string or as a number; both decode to the same text.
type OpaqueID string

func (id *OpaqueID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OpaqueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = OpaqueID(n.String())
	return nil
}

func (id OpaqueID) String() string { return string(id) }
