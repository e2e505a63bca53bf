package jobs

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryClassification_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("scan failed: %w", Transient(errors.New("throttled")))

	if !IsRetryable(err) {
		t.Error("wrapped transient error no longer classified as retryable")
	}
	if IsInvalidInput(err) || IsPanic(err) {
		t.Error("transient error misclassified")
	}
}

func TestInvalidInput_Classification(t *testing.T) {
	err := InvalidInput("connection_id", "not a valid uuid")

	if !IsInvalidInput(err) {
		t.Error("expected IsInvalidInput to be true")
	}
	if IsRetryable(err) {
		t.Error("invalid input must not be retryable")
	}
	want := `invalid payload field "connection_id": not a valid uuid`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestPanicError_Classification(t *testing.T) {
	var panicErr error = PanicError{Value: "nil deref", StackTrace: "stack"}
	err := fmt.Errorf("handler failed: %w", panicErr)

	if !IsPanic(err) {
		t.Error("wrapped panic error no longer classified as panic")
	}
	if IsRetryable(err) {
		t.Error("panic must not be retryable")
	}
}
