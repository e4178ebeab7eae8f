package persistence

import (
	"bytes"
	"encoding/gob"
	"time"
)

// EncodeValue gob-encodes v. Interface values nested in v must have their
// concrete types registered with gob.
func EncodeValue[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue gob-decodes data into a T. Empty data yields the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}

func encodePayload(p map[string]any) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return EncodeValue(p)
}

func encodeStrings(s []string) ([]byte, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return EncodeValue(s)
}

// Timestamps are stored as unix nanoseconds so SQLite and PostgreSQL share
// one schema shape and one scan path.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func optNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromOptNanos(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(0, *n).UTC()
	return &t
}
