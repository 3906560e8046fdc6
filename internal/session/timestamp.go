package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp decodes the time shapes the backend emits: RFC 3339 strings,
// epoch milliseconds, and document-store objects with seconds/nanoseconds.
// The zero value encodes as null.
type Timestamp struct {
	time.Time
}

// At wraps t.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

type storeTimestamp struct {
	Seconds         *int64 `json:"_seconds"`
	Nanoseconds     int64  `json:"_nanoseconds"`
	PlainSeconds    *int64 `json:"seconds"`
	PlainNanosecond int64  `json:"nanoseconds"`
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		if s == "" {
			t.Time = time.Time{}
			return nil
		}

		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}

		t.Time = parsed

		return nil

	case '{':
		var st storeTimestamp
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}

		switch {
		case st.Seconds != nil:
			t.Time = time.Unix(*st.Seconds, st.Nanoseconds).UTC()
		case st.PlainSeconds != nil:
			t.Time = time.Unix(*st.PlainSeconds, st.PlainNanosecond).UTC()
		default:
			return fmt.Errorf("invalid timestamp object: %s", data)
		}

		return nil

	default:
		var ms float64
		if err := json.Unmarshal(data, &ms); err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}

		t.Time = time.UnixMilli(int64(ms)).UTC()

		return nil
	}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
