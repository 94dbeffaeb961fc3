package webhook

import (
	"strings"
	"testing"
)

func testEnvelope() Envelope {
	return Envelope{
		Event:     "collection.paid",
		Timestamp: "2026-03-15T10:00:00Z",
		Data: map[string]interface{}{
			"collection_id": "42",
			"agent_name":    "Moussa Diop",
			"amount":        "5000.00",
		},
	}
}

func TestSign_DeterministicAndPrefixed(t *testing.T) {
	envelope := testEnvelope()
	first, err := Sign(envelope, "whsec_test")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if !strings.HasPrefix(first, "sha256=") {
		t.Fatalf("expected sha256= prefix, got %q", first)
	}
	second, err := Sign(envelope, "whsec_test")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if first != second {
		t.Fatalf("signature not deterministic: %q vs %q", first, second)
	}
}

func TestVerify_AcceptsCorrectSignature(t *testing.T) {
	envelope := testEnvelope()
	signature, err := Sign(envelope, "whsec_test")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if !Verify(envelope, "whsec_test", signature) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	envelope := testEnvelope()
	signature, err := Sign(envelope, "whsec_test")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if Verify(envelope, "whsec_other", signature) {
		t.Fatal("expected verification to fail with the wrong secret")
	}
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	envelope := testEnvelope()
	signature, err := Sign(envelope, "whsec_test")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	envelope.Data["amount"] = "9999.00"
	if Verify(envelope, "whsec_test", signature) {
		t.Fatal("expected verification to fail after tampering")
	}
}
