package utils

import (
	"testing"
)

func TestCanonicalJSON_SortsKeysAtAllLevels(t *testing.T) {
	v := map[string]interface{}{
		"zulu":  1,
		"alpha": map[string]interface{}{"delta": "d", "bravo": "b"},
	}
	got, err := CanonicalJSON(v)
	if err != nil {
		t.Fatalf("CanonicalJSON error: %v", err)
	}
	expected := `{"alpha":{"bravo":"b","delta":"d"},"zulu":1}`
	if string(got) != expected {
		t.Fatalf("expected %s, got %s", expected, got)
	}
}

func TestCanonicalJSON_StructFieldOrderDoesNotLeak(t *testing.T) {
	// Two struct layouts with the same JSON content must canonicalize the
	// same way; signatures built over the output depend on it.
	type a struct {
		Event string `json:"event"`
		Data  string `json:"data"`
	}
	type b struct {
		Data  string `json:"data"`
		Event string `json:"event"`
	}
	first, err := CanonicalJSON(a{Event: "collection.paid", Data: "x"})
	if err != nil {
		t.Fatalf("CanonicalJSON error: %v", err)
	}
	second, err := CanonicalJSON(b{Data: "x", Event: "collection.paid"})
	if err != nil {
		t.Fatalf("CanonicalJSON error: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("canonical forms differ: %s vs %s", first, second)
	}
}
