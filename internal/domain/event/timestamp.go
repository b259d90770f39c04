package event

import (
	"fmt"
	"strings"
	"time"
)

// localDateTimeLayout is the zone-less ISO date-time emitted by the case
// management system. Fractional seconds are optional when parsing.
const localDateTimeLayout = "2006-01-02T15:04:05"

// LocalDateTime is a date-time without zone information. It is interpreted
// as UTC.
type LocalDateTime struct {
	time.Time
}

// NewLocalDateTime wraps t
func NewLocalDateTime(t time.Time) *LocalDateTime {
	return &LocalDateTime{Time: t.UTC()}
}

// ParseLocalDateTime accepts the zone-less layout and falls back to RFC 3339.
func ParseLocalDateTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(localDateTimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid local date-time %q", s)
	}
	return t.UTC(), nil
}

// FormatLocalDateTime renders t in the zone-less layout, keeping only the
// significant fractional digits.
func FormatLocalDateTime(t time.Time) string {
	return t.UTC().Format(localDateTimeLayout + ".999999999")
}

// UnmarshalJSON implements json.Unmarshaler
func (t *LocalDateTime) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if raw == "null" {
		return nil
	}
	if len(raw) < 2 || !strings.HasPrefix(raw, `"`) || !strings.HasSuffix(raw, `"`) {
		return fmt.Errorf("local date-time must be a JSON string, got %s", raw)
	}

	parsed, err := ParseLocalDateTime(raw[1 : len(raw)-1])
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (t LocalDateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + FormatLocalDateTime(t.Time) + `"`), nil
}
