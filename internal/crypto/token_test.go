package crypto

import "testing"

func TestSessionTokens(t *testing.T) {
	first, err := NewSessionToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	second, err := NewSessionToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct tokens")
	}
	if HashToken(first) == first {
		t.Fatalf("hash must differ from token")
	}
	if HashToken(first) != HashToken(first) {
		t.Fatalf("hash must be deterministic")
	}
}
