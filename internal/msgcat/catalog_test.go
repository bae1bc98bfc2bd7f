package msgcat

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/park285/matka-round-server/internal/domain"
)

func TestRenderEmbedded(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("auth.ok", map[string]any{"Username": "alice"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Welcome, alice" {
		t.Fatalf("unexpected: %q", got)
	}
	if _, err := c.Render("auth.ok", nil); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := c.Render("nope.nope", nil); err == nil {
		t.Fatalf("expected template not found")
	}
}

func TestErrorTextUsesVars(t *testing.T) {
	c := MustDefault()
	c.SetVars(map[string]any{"OpenHour": 9, "CloseHour": 22, "MaxStake": "10000"})

	if got := c.ErrorText(domain.ErrOutsideOperatingWindow); got != "Games run between 9:00 and 22:00" {
		t.Fatalf("window text: %q", got)
	}
	wrapped := fmt.Errorf("place wager: %w", domain.ErrBettingClosed)
	if got := c.ErrorText(wrapped); got != "Betting is closed for the current phase" {
		t.Fatalf("wrapped text: %q", got)
	}
	if got := c.ErrorText(fmt.Errorf("boom")); got != "Something went wrong, please retry" {
		t.Fatalf("unclassified text: %q", got)
	}
}

func TestEveryErrorCodeHasText(t *testing.T) {
	c := MustDefault()
	c.SetVars(map[string]any{"OpenHour": 9, "CloseHour": 22, "MaxStake": "10000"})
	for _, e := range []*domain.Error{
		domain.ErrInvalidStake, domain.ErrInvalidNumberFormat, domain.ErrInvalidResultFormat,
		domain.ErrInvalidBetKind, domain.ErrInsufficientFunds, domain.ErrInvalidArgs,
		domain.ErrNoActiveRound, domain.ErrAlreadyActive, domain.ErrBettingClosed,
		domain.ErrOutsideOperatingWindow, domain.ErrAlreadySettled, domain.ErrInvalidCredentials,
		domain.ErrAuthThrottled, domain.ErrForbidden, domain.ErrUserNotFound,
		domain.ErrRoundNotFound, domain.ErrStorage,
	} {
		if _, err := c.Render("errors."+e.Code, nil); err != nil {
			t.Fatalf("%s: %v", e.Code, err)
		}
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("bet:\n  accepted: \"Done\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("bet.accepted", "", nil); got != "Done" {
		t.Fatalf("override not applied: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("bet:\n  accepted: \"Again\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
