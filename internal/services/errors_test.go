package services

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := newError(KindConstraintViolation, "write rejected", cause)

	if got := e.Error(); got != "constraint_violation: write rejected: disk full" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(e, cause) {
		t.Fatalf("cause not reachable via errors.Is")
	}

	bare := newError(KindNotFound, "appointment not found", nil)
	if got := bare.Error(); got != "not_found: appointment not found" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestError_IsMatchesByKind(t *testing.T) {
	e := newError(KindSlotConflict, msgGenericConflict, nil)

	if !errors.Is(e, &Error{Kind: KindSlotConflict}) {
		t.Fatalf("same-kind sentinel should match")
	}
	if errors.Is(e, &Error{Kind: KindNotFound}) {
		t.Fatalf("different-kind sentinel must not match")
	}

	wrapped := fmt.Errorf("handler: %w", e)
	if !errors.Is(wrapped, &Error{Kind: KindSlotConflict}) {
		t.Fatalf("kind matching should survive wrapping")
	}
}

func TestKindOf(t *testing.T) {
	e := newError(KindSyncFailure, "calendar down", errors.New("dial tcp"))

	kind, ok := KindOf(fmt.Errorf("create: %w", e))
	if !ok || kind != KindSyncFailure {
		t.Fatalf("KindOf = %q, %v", kind, ok)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("plain errors must not report a kind")
	}
}
