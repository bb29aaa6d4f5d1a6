package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Layouts accepted when decoding. Jackson writes either RFC 3339 or an
// offset without a colon depending on the server's date format.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999",
}

// Timestamp is a message time that tolerates the encodings gateways use.
type Timestamp struct {
	time.Time
}

// Now returns the current time truncated to milliseconds.
func Now() Timestamp {
	return Timestamp{Time: time.Now().Truncate(time.Millisecond)}
}

// MarshalJSON encodes RFC 3339 with millisecond precision, or null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(timestampLayout))
}

// UnmarshalJSON accepts RFC 3339 strings, epoch milliseconds and null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return errors.Errorf("unrecognised timestamp %q", s)
	}

	millis, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return errors.Wrapf(err, "unrecognised timestamp %s", data)
	}
	t.Time = time.UnixMilli(int64(millis))
	return nil
}
