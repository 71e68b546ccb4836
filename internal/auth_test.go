package internal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestOperatorStore(t *testing.T) *OperatorStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewOperatorStore(db)
}

func TestOperatorSessions(t *testing.T) {
	store := newTestOperatorStore(t)

	operator, err := store.CreateOperator("operator", "password123")
	if err != nil {
		t.Fatalf("CreateOperator failed: %v", err)
	}
	if !VerifyPassword(operator, "password123") || VerifyPassword(operator, "wrong") {
		t.Error("Password verification mismatch")
	}
	if _, err := store.CreateOperator("operator", "again"); err == nil {
		t.Error("Expected a duplicate username to be rejected")
	}

	session, err := store.CreateSession(operator)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	got, err := store.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Username != "operator" || got.OperatorID != operator.ID {
		t.Errorf("Unexpected session %+v", got)
	}

	if err := store.DeleteSession(session.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetSession(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestOperatorSessionExpired(t *testing.T) {
	store := newTestOperatorStore(t)
	operator, err := store.CreateOperator("operator", "password123")
	if err != nil {
		t.Fatal(err)
	}

	store.sessionTTL = -time.Hour
	session, err := store.CreateSession(operator)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetSession(session.ID); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Expected ErrSessionExpired, got %v", err)
	}
	// the expired session is gone after the first lookup
	if _, err := store.GetSession(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestSetPassword(t *testing.T) {
	store := newTestOperatorStore(t)

	created, err := store.SetPassword("duty", "first")
	if err != nil || !created {
		t.Fatalf("Expected the operator to be created, got %v (%v)", created, err)
	}

	operator, err := store.GetOperatorByUsername("duty")
	if err != nil {
		t.Fatal(err)
	}
	session, err := store.CreateSession(operator)
	if err != nil {
		t.Fatal(err)
	}

	created, err = store.SetPassword("duty", "second")
	if err != nil || created {
		t.Fatalf("Expected the password to be updated, got %v (%v)", created, err)
	}
	operator, err = store.GetOperatorByUsername("duty")
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword(operator, "second") {
		t.Error("Expected the new password to be accepted")
	}
	if _, err := store.GetSession(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected old sessions to be dropped, got %v", err)
	}

	if _, err := store.GetOperatorByUsername("nobody"); !errors.Is(err, ErrOperatorNotFound) {
		t.Errorf("Expected ErrOperatorNotFound, got %v", err)
	}
}

func TestListOperators(t *testing.T) {
	store := newTestOperatorStore(t)
	for _, name := range []string{"night", "day"} {
		if _, err := store.CreateOperator(name, "password123"); err != nil {
			t.Fatal(err)
		}
	}

	operators, err := store.ListOperators()
	if err != nil {
		t.Fatalf("ListOperators failed: %v", err)
	}
	if len(operators) != 2 || operators[0].Username != "day" || operators[1].Username != "night" {
		t.Errorf("Expected operators sorted by name, got %+v", operators)
	}
}
