package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
)

func TestParseRow_ValidRow(t *testing.T) {
	master := &models.Master{Timezone: "Africa/Dakar"}
	parsed, err := parseRow(master, PaymentRow{
		CustomerName: "Moussa Diop",
		PhoneNumber:  "00221771234567",
		Amount:       "5000",
		PaymentDate:  "2026-03-15",
		Reference:    "TXN-001",
	})
	if err != nil {
		t.Fatalf("parseRow error: %v", err)
	}
	if parsed.amount.StringFixed(2) != "5000.00" {
		t.Fatalf("unexpected amount: %s", parsed.amount)
	}
	if parsed.paymentDate.Format("2006-01-02") != "2026-03-15" {
		t.Fatalf("unexpected payment date: %s", parsed.paymentDate)
	}
}

func TestParseRow_RowScopedErrors(t *testing.T) {
	master := &models.Master{Timezone: "Africa/Dakar"}
	cases := []struct {
		name string
		row  PaymentRow
	}{
		{"missing reference", PaymentRow{CustomerName: "A", PhoneNumber: "+221771234567", Amount: "5000", PaymentDate: "2026-03-15"}},
		{"missing phone", PaymentRow{CustomerName: "A", Amount: "5000", PaymentDate: "2026-03-15", Reference: "R1"}},
		{"bad amount", PaymentRow{CustomerName: "A", PhoneNumber: "+221771234567", Amount: "abc", PaymentDate: "2026-03-15", Reference: "R1"}},
		{"zero amount", PaymentRow{CustomerName: "A", PhoneNumber: "+221771234567", Amount: "0", PaymentDate: "2026-03-15", Reference: "R1"}},
		{"negative amount", PaymentRow{CustomerName: "A", PhoneNumber: "+221771234567", Amount: "-100", PaymentDate: "2026-03-15", Reference: "R1"}},
		{"bad date", PaymentRow{CustomerName: "A", PhoneNumber: "+221771234567", Amount: "5000", PaymentDate: "15/03/2026", Reference: "R1"}},
		{"invalid phone", PaymentRow{CustomerName: "A", PhoneNumber: "+221123", Amount: "5000", PaymentDate: "2026-03-15", Reference: "R1"}},
		{"non-numeric phone", PaymentRow{CustomerName: "A", PhoneNumber: "not-a-number", Amount: "5000", PaymentDate: "2026-03-15", Reference: "R1"}},
	}
	for _, tc := range cases {
		_, err := parseRow(master, tc.row)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !utils.IsValidationError(err) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestIngestPayments_MalformedRowDoesNotAbortBatch(t *testing.T) {
	// Only the malformed row fails during parsing; it must be reported on
	// its own result and leave surrounding rows untouched. No DB work
	// happens for a row that fails validation, so a batch of only
	// malformed rows is safe to run without infrastructure.
	master := &models.Master{Timezone: "Africa/Dakar"}
	results := IngestPayments(nil, master, []PaymentRow{
		{CustomerName: "A", PhoneNumber: "+221771234567", Amount: "bad", PaymentDate: "2026-03-15", Reference: "R1"},
		{CustomerName: "B", PhoneNumber: "+221771234568", Amount: "5000", PaymentDate: "not-a-date", Reference: "R2"},
	}, nil, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Error == "" {
			t.Fatalf("result %d: expected a row error", i)
		}
	}
	if results[0].Reference != "R1" || results[1].Reference != "R2" {
		t.Fatal("results must keep input order")
	}
}
