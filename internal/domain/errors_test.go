package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorUnwrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"precondition", NewPreconditionError("enable", "interface s1:1", "switch s1 must be enabled"), ErrPreconditionFailed},
		{"not found", NewNotFoundError("switch", "s1"), ErrNotFound},
		{"validation", NewValidationError("bad"), ErrValidationFailed},
		{"store", NewStoreError("commit", errors.New("disk full")), ErrStoreUnavailable},
		{"wrapped precondition", fmt.Errorf("ctx: %w", NewPreconditionError("enable", "link x", "y")), ErrPreconditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("expected %v to match %v", tt.err, tt.sentinel)
			}
		})
	}
}

func TestNewStoreErrorPassesDomainErrors(t *testing.T) {
	nf := NewNotFoundError("link", "abc")
	err := NewStoreError("get", nf)
	if errors.Is(err, ErrStoreUnavailable) {
		t.Error("not-found must not be reported as store unavailable")
	}
	if NewStoreError("noop", nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestValidateOperatorMetadata(t *testing.T) {
	if err := ValidateOperatorMetadata(Metadata{"color": "red"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := ValidateOperatorMetadata(Metadata{LivenessStatusKey: "up"})
	if !errors.Is(err, ErrValidationFailed) {
		t.Errorf("expected reserved key to be rejected, got %v", err)
	}

	if err := ValidateOperatorMetadata(Metadata{}); err == nil {
		t.Error("expected empty payload to be rejected")
	}
}

func TestParseEntityKind(t *testing.T) {
	for in, want := range map[string]EntityKind{
		"switches":   KindSwitch,
		"interfaces": KindInterface,
		"links":      KindLink,
	} {
		got, err := ParseEntityKind(in)
		if err != nil || got != want {
			t.Errorf("ParseEntityKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseEntityKind("nodes"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
