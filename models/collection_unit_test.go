package models

import (
	"testing"
	"time"
)

func TestCollectionIsOverdue(t *testing.T) {
	past := time.Now().UTC().Add(-24 * time.Hour)
	future := time.Now().UTC().Add(24 * time.Hour)

	c := Collection{Status: CollectionStatusPending, DueDate: past}
	if !c.IsOverdue() {
		t.Fatal("pending collection past due date must be overdue")
	}

	c = Collection{Status: CollectionStatusPending, DueDate: future}
	if c.IsOverdue() {
		t.Fatal("pending collection before due date must not be overdue")
	}

	// Terminal statuses are never overdue regardless of due date.
	for _, s := range []CollectionStatus{
		CollectionStatusPaid, CollectionStatusFailed, CollectionStatusCancelled,
	} {
		c = Collection{Status: s, DueDate: past}
		if c.IsOverdue() {
			t.Fatalf("%q collection must not be overdue", s)
		}
	}
}
