package ident

import "testing"

func TestAssignKnownValues(t *testing.T) {
	// Values computed independently with a reference UUIDv5 implementation.
	cases := map[string]string{
		"cat":           "08c80b73-c26d-5ef0-81a0-aad0fccddcba",
		"dog":           "c9615669-181c-5685-8551-fb3e0da55933",
		"Infinite Wiki": "e358cac7-a289-5c4a-abd6-d5ff8be684d1",
	}
	for name, want := range cases {
		if got := Assign(name); got != want {
			t.Errorf("Assign(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestAssignDeterministic(t *testing.T) {
	for _, name := range []string{"dog", "be", "loyal", "", "x1"} {
		first := Assign(name)
		for i := 0; i < 5; i++ {
			if got := Assign(name); got != first {
				t.Fatalf("Assign(%q) not deterministic: %s vs %s", name, got, first)
			}
		}
		if !Valid(first) {
			t.Fatalf("Assign(%q) = %s is not a v5 uuid", name, first)
		}
	}
}

func TestAssignDistinct(t *testing.T) {
	if Assign("dog") == Assign("dogs") {
		t.Fatal("different names must not share an identifier")
	}
}

func TestValid(t *testing.T) {
	if Valid("not-a-uuid") {
		t.Error("garbage accepted")
	}
	if Valid("c9bf9e57-1685-4c89-bafb-ff5af830be8a") { // v4
		t.Error("v4 uuid accepted")
	}
}
