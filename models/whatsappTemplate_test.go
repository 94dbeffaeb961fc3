package models

import "testing"

func TestTemplateRender(t *testing.T) {
	tpl := WhatsAppTemplate{
		Content: "Bonjour {agent_name}, paiement de {amount} FCFA recu le {date}.",
	}
	got := tpl.Render(map[string]string{
		"agent_name": "Moussa Diop",
		"amount":     "5000.00",
		"date":       "2026-03-15",
	})
	expected := "Bonjour Moussa Diop, paiement de 5000.00 FCFA recu le 2026-03-15."
	if got != expected {
		t.Fatalf("expected %q, got %q", expected, got)
	}
}

func TestTemplateRender_UnknownPlaceholderLeftIntact(t *testing.T) {
	tpl := WhatsAppTemplate{Content: "Hello {agent_name}, ref {reference}"}
	got := tpl.Render(map[string]string{"agent_name": "Awa"})
	if got != "Hello Awa, ref {reference}" {
		t.Fatalf("unexpected render: %q", got)
	}
}

func TestResolveTemplateAlias_PinpayFromEnv(t *testing.T) {
	t.Setenv("PINPAY_TEMPLATE_NAME", "pinpay_payment_confirmation_v2")
	t.Setenv("PINPAY_TEMPLATE_LANGUAGE", "fr")

	name, language := ResolveTemplateAlias("pinpay", "en")
	if name != "pinpay_payment_confirmation_v2" {
		t.Fatalf("expected env name, got %q", name)
	}
	if language != "fr" {
		t.Fatalf("expected env language, got %q", language)
	}
}

func TestResolveTemplateAlias_UnknownPassesThrough(t *testing.T) {
	t.Setenv("PINPAY_TEMPLATE_NAME", "")
	name, language := ResolveTemplateAlias("payment_received", "fr")
	if name != "payment_received" || language != "fr" {
		t.Fatalf("expected pass-through, got %q %q", name, language)
	}
}
