package model

import (
	"fmt"
	"time"
)

// APITime formats timestamps in API responses as RFC 3339 in UTC with millisecond precision.
type APITime time.Time

const apiTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// MarshalJSON implements the json.Marshaler interface.
func (t APITime) MarshalJSON() ([]byte, error) {
	formatted := fmt.Sprintf("\"%s\"", time.Time(t).UTC().Format(apiTimeFormat))
	return []byte(formatted), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *APITime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	parsed, err := time.Parse(`"`+time.RFC3339Nano+`"`, string(b))
	if err != nil {
		return err
	}
	*t = APITime(parsed)
	return nil
}

// Time returns the underlying time.Time.
func (t APITime) Time() time.Time {
	return time.Time(t)
}
