package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptRecord is returned when a cached or durable payload cannot be decoded.
var ErrCorruptRecord = errors.New("session record corrupt")

func encodeRecord(r *Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if r.SessionID == "" || r.User == "" {
		return nil, ErrCorruptRecord
	}
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	return &r, nil
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode session data: %w", err)
	}
	return string(raw), nil
}

func decodeData(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return out, nil
}
