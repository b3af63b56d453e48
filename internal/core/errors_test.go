package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassification_Healable(t *testing.T) {
	healable := []Classification{ClassSchemaViolation, ClassReadOnlyField, ClassInvalidConnection}
	for _, c := range healable {
		if !c.Healable() {
			t.Fatalf("expected %s to be healable", c)
		}
	}
	notHealable := []Classification{ClassTimeout, ClassRateLimited, ClassAuthFailure, ClassUnknown, ClassNone}
	for _, c := range notHealable {
		if c.Healable() {
			t.Fatalf("expected %s to not be healable", c)
		}
	}
}

func TestClassification_Retryable(t *testing.T) {
	retryable := []Classification{
		ClassSchemaViolation, ClassReadOnlyField, ClassInvalidConnection,
		ClassTimeout, ClassRateLimited,
	}
	for _, c := range retryable {
		if !c.Retryable() {
			t.Fatalf("expected %s to be retryable", c)
		}
	}
	if ClassAuthFailure.Retryable() || ClassUnknown.Retryable() {
		t.Fatalf("expected auth failure and unknown to be fatal")
	}
}

func TestDomainError_Wrapping(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := ErrTimeout("engine submission timed out").WithCause(cause)

	if !errors.Is(err, ErrTimeout("engine submission timed out")) {
		t.Fatalf("expected errors.Is to match classification+code")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	if !IsRetryable(err) {
		t.Fatalf("expected timeout to be retryable")
	}
	if ClassOf(err) != ClassTimeout {
		t.Fatalf("ClassOf = %s, want timeout", ClassOf(err))
	}
}

func TestDomainError_Details(t *testing.T) {
	err := ErrReadOnlyField("id is read-only", []string{"id"})
	fields, ok := err.Details["fields"].([]string)
	if !ok || len(fields) != 1 || fields[0] != "id" {
		t.Fatalf("expected offending field names in details, got %v", err.Details)
	}
}

func TestClassOf_Unwrapped(t *testing.T) {
	wrapped := fmt.Errorf("deploy: %w", ErrRateLimited("429"))
	if ClassOf(wrapped) != ClassRateLimited {
		t.Fatalf("expected classification through wrap chain")
	}
	if ClassOf(errors.New("plain")) != ClassUnknown {
		t.Fatalf("expected plain errors to classify unknown")
	}
}

func TestDesignError(t *testing.T) {
	err := &DesignError{Unsupported: "fax_received", Alternatives: []string{"webhook", "schedule"}}
	if err.Error() == "" || err.Unsupported != "fax_received" {
		t.Fatalf("expected unsupported capability to be named")
	}

	var de *DesignError
	wrapped := fmt.Errorf("designing: %w", err)
	if !errors.As(wrapped, &de) {
		t.Fatalf("expected errors.As to find DesignError")
	}
}

func TestErrSlotsExhausted(t *testing.T) {
	err := ErrSlotsExhausted(4)
	if IsRetryable(err) {
		t.Fatalf("slot exhaustion must not be retryable")
	}
	if err.Code != "SLOTS_EXHAUSTED" {
		t.Fatalf("unexpected code %s", err.Code)
	}
}
