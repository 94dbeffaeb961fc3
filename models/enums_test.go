package models

import "testing"

func TestCollectionStatus_IsValid(t *testing.T) {
	for _, s := range []CollectionStatus{
		CollectionStatusPending, CollectionStatusPaid,
		CollectionStatusFailed, CollectionStatusCancelled,
	} {
		if !s.IsValid() {
			t.Fatalf("expected %q valid", s)
		}
	}
	if CollectionStatus("refunded").IsValid() {
		t.Fatal("expected unknown status invalid")
	}
}

func TestCollectionStatus_PendingIsOnlyNonTerminal(t *testing.T) {
	if CollectionStatusPending.IsTerminal() {
		t.Fatal("pending must be non-terminal")
	}
	for _, s := range []CollectionStatus{
		CollectionStatusPaid, CollectionStatusFailed, CollectionStatusCancelled,
	} {
		if !s.IsTerminal() {
			t.Fatalf("expected %q terminal", s)
		}
	}
}

func TestPaymentMethod_IsValid(t *testing.T) {
	if !PaymentMethodMobileMoney.IsValid() {
		t.Fatal("expected mobile_money valid")
	}
	if PaymentMethod("crypto").IsValid() {
		t.Fatal("expected unknown method invalid")
	}
}
