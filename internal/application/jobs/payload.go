package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Payload field accessors. Payloads arrive as decoded JSON, so everything is
// map[string]any underneath; these helpers convert with InvalidInput errors
// for required fields.

func payloadString(p map[string]any, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func requireString(p map[string]any, key string) (string, error) {
	s, ok := payloadString(p, key)
	if !ok || s == "" {
		return "", InvalidInput(key, "required string field missing")
	}
	return s, nil
}

func requireUUID(p map[string]any, key string) (uuid.UUID, error) {
	s, err := requireString(p, key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, InvalidInput(key, "not a valid uuid")
	}
	return id, nil
}

func optionalBool(p map[string]any, key string) bool {
	v, ok := p[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func optionalMap(p map[string]any, key string) map[string]any {
	v, ok := p[key]
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func optionalStringMap(p map[string]any, key string) map[string]string {
	m := optionalMap(p, key)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func optionalDate(p map[string]any, key string, fallback time.Time) time.Time {
	s, ok := payloadString(p, key)
	if !ok {
		return fallback
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fallback
	}
	return t.UTC()
}
