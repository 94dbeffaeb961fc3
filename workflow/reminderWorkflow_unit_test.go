package workflow

import (
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/collections_backend/models"
)

func TestReminderContent_RendersTemplate(t *testing.T) {
	template := &models.WhatsAppTemplate{
		Content: "Bonjour {agent_name}, paiement de {amount} FCFA attendu avant le {due_date}.",
	}
	got := reminderContent(template, "Moussa Diop", "5000.00", "2026-03-15")
	want := "Bonjour Moussa Diop, paiement de 5000.00 FCFA attendu avant le 2026-03-15."
	if got != want {
		t.Fatalf("rendered content = %q, want %q", got, want)
	}
}

func TestReminderContent_FallbackWithoutTemplate(t *testing.T) {
	got := reminderContent(nil, "Awa Ndiaye", "12500.00", "2026-04-01")
	if !strings.Contains(got, "Awa Ndiaye") {
		t.Fatalf("fallback missing agent name: %q", got)
	}
	if !strings.Contains(got, "12500.00 FCFA") {
		t.Fatalf("fallback missing amount: %q", got)
	}
	if !strings.Contains(got, "2026-04-01") {
		t.Fatalf("fallback missing due date: %q", got)
	}
}

func TestReminderContent_FallbackEmptyDueDate(t *testing.T) {
	got := reminderContent(nil, "Awa Ndiaye", "12500.00", "")
	if !strings.Contains(got, "N/A") {
		t.Fatalf("empty due date must render as N/A: %q", got)
	}
}
