package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCairnError_Error(t *testing.T) {
	err := &CairnError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "record not found",
	}

	expected := "NOT_FOUND: record not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("content is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "content is required" {
		t.Errorf("Message = %q, want %q", err.Message, "content is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("record", "abc")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "abc" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "abc")
	}
	if err.Details["kind"] != "record" {
		t.Errorf("Details[kind] = %v, want %q", err.Details["kind"], "record")
	}
}

func TestNewAlreadyRolledBack(t *testing.T) {
	err := NewAlreadyRolledBack("cp-1")

	if err.Code != ErrAlreadyRolledBack {
		t.Errorf("Code = %q, want %q", err.Code, ErrAlreadyRolledBack)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
}

func TestNewJournalFailure(t *testing.T) {
	moves := []map[string]string{{"src": "/a", "dst": "/b"}}
	cause := fmt.Errorf("disk full")
	err := NewJournalFailure(moves, cause)

	if err.Code != ErrJournalFailure {
		t.Errorf("Code = %q, want %q", err.Code, ErrJournalFailure)
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	got, ok := err.Details["moves"].([]map[string]string)
	if !ok || len(got) != 1 {
		t.Fatalf("Details[moves] = %v, want 1 move", err.Details["moves"])
	}
}

func TestNewStorage_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("database is locked")
	err := NewStorage("relational", "save record", cause)

	if err.Code != ErrStorageFailure {
		t.Errorf("Code = %q, want %q", err.Code, ErrStorageFailure)
	}
	if stderrors.Unwrap(err) != cause {
		t.Error("Unwrap() should return the cause")
	}
	if err.Message != "relational store: save record failed" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewCollaborator(t *testing.T) {
	err := NewCollaborator("embed", fmt.Errorf("timeout"))

	if err.Status != 502 {
		t.Errorf("Status = %d, want 502", err.Status)
	}
	if err.Details["op"] != "embed" {
		t.Errorf("Details[op] = %v, want embed", err.Details["op"])
	}
}

func TestNewInternal(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"with error", fmt.Errorf("database connection failed"), "database connection failed"},
		{"nil error", nil, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewInternal(tt.err)
			if err.Code != ErrInternal {
				t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
			}
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
		})
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewNotFound("record", "x"), ErrNotFound, true},
		{"different code", NewNotFound("record", "x"), ErrInvalidRequest, false},
		{"wrapped", fmt.Errorf("outer: %w", NewAlreadyRolledBack("x")), ErrAlreadyRolledBack, true},
		{"non-cairn error", fmt.Errorf("some error"), ErrNotFound, false},
		{"nil error", nil, ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("ctx: %w", NewInvalidRequest("bad"))
	cErr, ok := As(wrapped)
	if !ok {
		t.Fatal("As() should find the CairnError")
	}
	if cErr.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", cErr.Code, ErrInvalidRequest)
	}

	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Error("As() should not match a plain error")
	}
}
