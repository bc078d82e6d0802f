package mount

import (
	"os"
	"testing"
)

func TestSessionLifecycle(t *testing.T) {
	s, err := NewSession()
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if s.State() != Created {
		t.Errorf("Expected state %v, got %v", Created, s.State())
	}

	info, err := os.Stat(s.Dir())
	if err != nil {
		t.Fatalf("Mount directory missing: %v", err)
	}
	if !info.IsDir() {
		t.Error("Mount path is not a directory")
	}

	s.Close()

	if s.State() != Closed {
		t.Errorf("Expected state %v, got %v", Closed, s.State())
	}
	if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
		t.Error("Expected mount directory removed after Close")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	s, err := NewSession()
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	s.Close()
	s.Close() // second close must be a no-op

	if s.State() != Closed {
		t.Errorf("Expected state %v, got %v", Closed, s.State())
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	first, err := NewSession()
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	second, err := NewSession()
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if first.Dir() == second.Dir() {
		t.Error("Sessions share a mount directory")
	}

	first.Close()

	// Closing one session must not disturb the other.
	if _, err := os.Stat(second.Dir()); err != nil {
		t.Errorf("Second session directory affected: %v", err)
	}
	second.Close()
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Created, "created"},
		{Mounting, "mounting"},
		{Ready, "ready"},
		{Unmounting, "unmounting"},
		{Closed, "closed"},
		{Errored, "errored"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, expected %q", tt.state, got, tt.want)
		}
	}
}
