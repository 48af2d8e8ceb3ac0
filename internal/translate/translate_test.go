package translate

import (
	"strings"
	"testing"
)

func TestErrorKnownMessages(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Permanent error: incorrect credentials for account", "identifiants de connexion"},
		{"Permanent error: account locked", "erreur permanente"},
		{"order failed, duplicate (already followed): Duplicate order", "déjà été copié"},
		{"order does not exist", "déjà été copié"},
		{"not logged in when opening contract page", "session a expiré"},
		{"navigation timeout of 20s exceeded", "trop de temps à répondre"},
		{"follow-up success message not found", "message de confirmation"},
	}
	for _, c := range cases {
		got := Error(c.in)
		if !strings.Contains(strings.ToLower(got), strings.ToLower(c.want)) {
			t.Errorf("Error(%q) = %q, want fragment %q", c.in, got, c.want)
		}
	}
}

func TestErrorUnwrapsUnexpectedPrefix(t *testing.T) {
	got := Error("Unexpected error: navigation timeout of 20s exceeded")
	if !strings.Contains(got, "trop de temps") {
		t.Fatalf("wrapped timeout should translate like a bare one, got %q", got)
	}
}

func TestErrorFallbackTruncates(t *testing.T) {
	long := strings.Repeat("x", 200)
	got := Error(long)
	if !strings.Contains(got, "Contactez le support") {
		t.Fatalf("unknown error should use the fallback, got %q", got)
	}
	if strings.Contains(got, strings.Repeat("x", 71)) {
		t.Fatal("fallback must truncate the raw message")
	}
}
