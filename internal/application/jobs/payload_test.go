package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRequireString(t *testing.T) {
	p := map[string]any{"provider": "aws", "empty": "", "number": 42}

	if s, err := requireString(p, "provider"); err != nil || s != "aws" {
		t.Errorf("requireString(provider) = %q, %v", s, err)
	}
	for _, key := range []string{"missing", "empty", "number"} {
		if _, err := requireString(p, key); !IsInvalidInput(err) {
			t.Errorf("requireString(%s): expected InvalidInputError, got %v", key, err)
		}
	}
}

func TestRequireUUID(t *testing.T) {
	id := uuid.New()
	p := map[string]any{"tenant_id": id.String(), "bad": "not-a-uuid"}

	got, err := requireUUID(p, "tenant_id")
	if err != nil || got != id {
		t.Errorf("requireUUID(tenant_id) = %v, %v", got, err)
	}
	if _, err := requireUUID(p, "bad"); !IsInvalidInput(err) {
		t.Errorf("expected InvalidInputError for malformed uuid, got %v", err)
	}
	if _, err := requireUUID(p, "missing"); !IsInvalidInput(err) {
		t.Errorf("expected InvalidInputError for missing uuid, got %v", err)
	}
}

func TestOptionalAccessors(t *testing.T) {
	p := map[string]any{
		"dry_run": true,
		"summary": map[string]any{"total": 3.0, "provider": "gcp"},
		"labels":  map[string]any{"team": "finops", "count": 7},
	}

	if !optionalBool(p, "dry_run") {
		t.Error("optionalBool(dry_run) = false")
	}
	if optionalBool(p, "missing") {
		t.Error("optionalBool on missing key must be false")
	}

	m := optionalMap(p, "summary")
	if m == nil || m["provider"] != "gcp" {
		t.Errorf("optionalMap(summary) = %v", m)
	}
	if optionalMap(p, "missing") != nil {
		t.Error("optionalMap on missing key must be nil")
	}

	// Non-string values are dropped, not coerced.
	sm := optionalStringMap(p, "labels")
	if len(sm) != 1 || sm["team"] != "finops" {
		t.Errorf("optionalStringMap(labels) = %v", sm)
	}
}

func TestOptionalDate(t *testing.T) {
	fallback := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := map[string]any{"period_start": "2026-02-01", "bad": "yesterday"}

	got := optionalDate(p, "period_start", fallback)
	want := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("optionalDate(period_start) = %v, want %v", got, want)
	}
	if got := optionalDate(p, "bad", fallback); !got.Equal(fallback) {
		t.Errorf("unparseable date must fall back, got %v", got)
	}
	if got := optionalDate(p, "missing", fallback); !got.Equal(fallback) {
		t.Errorf("missing date must fall back, got %v", got)
	}
}
