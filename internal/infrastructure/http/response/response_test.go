package response_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/infrastructure/http/response"
)

// unencodableType simulates a type that fails during JSON encoding.
type unencodableType struct {
	BadField chan int `json:"bad_field"`
}

func (u unencodableType) MarshalJSON() ([]byte, error) {
	_, err := json.Marshal(u.BadField)
	return nil, err
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field string `json:"field"`
			Issue string `json:"issue"`
		} `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var resp errorEnvelope
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("response body is not valid JSON: %v", err)
	}
	return resp
}

// An encoding failure must never leave a success status on the wire.
func TestOK_EncodingFailure_Returns500WithErrorJSON(t *testing.T) {
	w := httptest.NewRecorder()

	response.OK(w, unencodableType{})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 when marshaling fails, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	resp := decodeError(t, w)
	if resp.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("expected error code INTERNAL_ERROR, got %s", resp.Error.Code)
	}
	if resp.Error.Message != "failed to encode response" {
		t.Errorf("expected 'failed to encode response', got %s", resp.Error.Message)
	}
}

func TestOK_Success_ReturnsValidJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]any{
		"id":    "123",
		"items": []string{"a", "b", "c"},
	}

	response.OK(w, data)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 OK, got %d", w.Code)
	}
	var decoded map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&decoded); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if decoded["id"] != "123" {
		t.Errorf("expected id=123, got %v", decoded["id"])
	}
}

func TestCreated_Success(t *testing.T) {
	w := httptest.NewRecorder()

	response.Created(w, map[string]string{"id": "new-resource-123"})

	if w.Code != http.StatusCreated {
		t.Errorf("expected 201 Created, got %d", w.Code)
	}
}

func TestError_ReturnsEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	response.Error(w, "INVALID_INPUT", "missing required field", http.StatusBadRequest)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Error.Code != "INVALID_INPUT" {
		t.Errorf("expected code=INVALID_INPUT, got %s", resp.Error.Code)
	}
	if resp.Error.Message != "missing required field" {
		t.Errorf("expected message='missing required field', got %s", resp.Error.Message)
	}
}

func TestValidationError_IncludesFieldDetails(t *testing.T) {
	w := httptest.NewRecorder()

	response.ValidationError(w, "dedup_key", "must be non-empty when present")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("expected code=VALIDATION_ERROR, got %s", resp.Error.Code)
	}
	if len(resp.Error.Details) != 1 {
		t.Fatalf("expected 1 detail, got %d", len(resp.Error.Details))
	}
	if resp.Error.Details[0].Field != "dedup_key" {
		t.Errorf("expected field=dedup_key, got %s", resp.Error.Details[0].Field)
	}
}

func TestFromDomainError_Mapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid type", domain.ErrInvalidJobType, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid limit", domain.ErrInvalidLimit, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"job not found", domain.ErrJobNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"not cancellable", domain.ErrJobNotCancellable, http.StatusConflict, "CONFLICT"},
		{"not dead letter", domain.ErrJobNotDeadLetter, http.StatusConflict, "CONFLICT"},
		{"unknown", errors.New("pool exhausted"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			response.FromDomainError(w, r, tc.err)

			if w.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, w.Code)
			}
			resp := decodeError(t, w)
			if resp.Error.Code != tc.wantCode {
				t.Errorf("expected code %s, got %s", tc.wantCode, resp.Error.Code)
			}
		})
	}
}
