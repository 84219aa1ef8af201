package storeerrors

import (
	"errors"
	"strings"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Entity: "outbox entry", ID: "e-1"}
	if got, want := err.Error(), `outbox entry with id "e-1" not found`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is should match ErrNotFound")
	}
}

func TestNotFoundError_NoID(t *testing.T) {
	err := &NotFoundError{Entity: "saga instance"}
	if got, want := err.Error(), "saga instance not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NewNotFoundError("view", "k1")) {
		t.Error("expected IsNotFound true")
	}
	if IsNotFound(ErrConflict) {
		t.Error("expected IsNotFound false for ErrConflict")
	}
}

func TestIsConflict(t *testing.T) {
	if !IsConflict(ErrConflict) {
		t.Error("expected IsConflict true")
	}
}

func TestValidateKey(t *testing.T) {
	if err := ValidateKey("order-123"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateKey(""); err == nil {
		t.Error("expected error for empty key")
	}
	if err := ValidateKey(strings.Repeat("a", 300)); err == nil {
		t.Error("expected error for oversized key")
	}
	if err := ValidateKey("bad key!"); err == nil {
		t.Error("expected error for invalid characters")
	}
}

func TestSanitizeString(t *testing.T) {
	if got, want := SanitizeString("  hi\x00there  "), "hithere"; got != want {
		t.Errorf("SanitizeString() = %q, want %q", got, want)
	}
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, -5)
	if p.Limit != 50 || p.Offset != 0 {
		t.Errorf("unexpected defaults: %+v", p)
	}
	p = NewPagination(5000, 10)
	if p.Limit != 1000 {
		t.Errorf("expected capped limit, got %d", p.Limit)
	}
}
