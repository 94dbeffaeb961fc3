package utils

import (
	"strings"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"+221771234567", "+221771234567"},
		{"00221771234567", "+221771234567"},
		{"221771234567", "+221771234567"},
		{"  +221 77 123 45 67  ", "+221 77 123 45 67"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.expected {
			t.Fatalf("NormalizePhone(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}

func TestNormalizePhone_SameIdentityAcrossFormats(t *testing.T) {
	a := NormalizePhone("00221771234567")
	b := NormalizePhone("+221771234567")
	c := NormalizePhone("221771234567")
	if a != b || b != c {
		t.Fatalf("expected one identity, got %q %q %q", a, b, c)
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("5000")
	if err != nil {
		t.Fatalf("ParseDecimal(5000) error: %v", err)
	}
	if d.StringFixed(2) != "5000.00" {
		t.Fatalf("expected 5000.00, got %s", d.StringFixed(2))
	}

	d, err = ParseDecimal(" 1234.50 ")
	if err != nil {
		t.Fatalf("ParseDecimal(1234.50) error: %v", err)
	}
	if d.String() != "1234.5" {
		t.Fatalf("expected 1234.5, got %s", d.String())
	}

	if _, err := ParseDecimal("abc"); err == nil {
		t.Fatal("expected error for non-numeric amount")
	}
	if _, err := ParseDecimal(""); err == nil {
		t.Fatal("expected error for empty amount")
	}
}

func TestParseDecimal_NoFloatDrift(t *testing.T) {
	a, _ := ParseDecimal("0.1")
	b, _ := ParseDecimal("0.2")
	c, _ := ParseDecimal("0.3")
	if !a.Add(b).Equal(c) {
		t.Fatalf("0.1 + 0.2 != 0.3: got %s", a.Add(b).String())
	}
}

func TestParseDateString(t *testing.T) {
	got, err := ParseDateString("2026-03-15", "Africa/Dakar")
	if err != nil {
		t.Fatalf("ParseDateString error: %v", err)
	}
	if got.Location().String() != "UTC" {
		t.Fatalf("expected UTC result, got %s", got.Location())
	}
	// Dakar is UTC+0, so midnight local is midnight UTC.
	if got.Format("2006-01-02 15:04") != "2026-03-15 00:00" {
		t.Fatalf("unexpected parsed time: %s", got)
	}

	got, err = ParseDateString("2026-03-15T13:45:00", "Africa/Dakar")
	if err != nil {
		t.Fatalf("ParseDateString datetime error: %v", err)
	}
	if got.Format("15:04") != "13:45" {
		t.Fatalf("unexpected parsed datetime: %s", got)
	}

	if _, err := ParseDateString("15/03/2026", "Africa/Dakar"); err == nil {
		t.Fatal("expected error for unsupported date format")
	}
}

func TestGenerateApiKey(t *testing.T) {
	key1, err := GenerateApiKey("sk_live_")
	if err != nil {
		t.Fatalf("GenerateApiKey error: %v", err)
	}
	if !strings.HasPrefix(key1, "sk_live_") {
		t.Fatalf("expected sk_live_ prefix, got %q", key1)
	}
	if len(key1) != len("sk_live_")+64 {
		t.Fatalf("unexpected key length: %d", len(key1))
	}
	key2, err := GenerateApiKey("sk_live_")
	if err != nil {
		t.Fatalf("GenerateApiKey error: %v", err)
	}
	if key1 == key2 {
		t.Fatal("expected unique keys")
	}
}

func TestIsValidEmail(t *testing.T) {
	if !IsValidEmail("ops@acme.sn") {
		t.Fatal("expected valid email")
	}
	if IsValidEmail("not-an-email") {
		t.Fatal("expected invalid email")
	}
}
