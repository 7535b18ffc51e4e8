package webhook

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"id":"ev-1","type":"sla.breach.opened"}`)

	sig, err := Sign(body, "whsec_secret")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("signature missing scheme prefix: %s", sig)
	}

	if !Verify(body, "whsec_secret", sig) {
		t.Error("signature should verify with the signing secret")
	}
	if Verify(body, "whsec_other", sig) {
		t.Error("signature should not verify with a different secret")
	}
	if Verify([]byte(`{"tampered":true}`), "whsec_secret", sig) {
		t.Error("signature should not verify for a tampered body")
	}
	if Verify(body, "whsec_secret", "sha256=deadbeef") {
		t.Error("bogus signature should not verify")
	}
	if Verify(body, "whsec_secret", strings.TrimPrefix(sig, "sha256=")) {
		t.Error("signature without scheme prefix should not verify")
	}
}

func TestSignDeterministic(t *testing.T) {
	body := []byte("payload")
	a, err := Sign(body, "secret")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	b, err := Sign(body, "secret")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if a != b {
		t.Errorf("same secret and body must produce the same signature: %s vs %s", a, b)
	}
}

func TestSignEmptySecret(t *testing.T) {
	_, err := Sign([]byte("payload"), "")
	if !errors.Is(err, ErrNoSecret) {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if !strings.HasPrefix(a, "whsec_") {
		t.Errorf("secret missing prefix: %s", a)
	}
	if a == b {
		t.Error("two generated secrets should differ")
	}
	if SecretFingerprint(a) == SecretFingerprint(b) {
		t.Error("fingerprints of different secrets should differ")
	}
	if SecretFingerprint(a) == a {
		t.Error("fingerprint should not echo the secret")
	}
}

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 16 * time.Minute},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	if MaxAttempts != 5 {
		t.Errorf("expected 5 total attempts, got %d", MaxAttempts)
	}
}

func TestEndpointSubscribed(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		typ    string
		want   bool
	}{
		{"empty list subscribes all", nil, "sla.breach.opened", true},
		{"wildcard subscribes all", []string{"*"}, "sla.breach.closed", true},
		{"exact match", []string{"sla.breach.opened"}, "sla.breach.opened", true},
		{"no match", []string{"sla.breach.opened"}, "sla.breach.closed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := &Endpoint{Events: tt.events}
			if got := ep.Subscribed(tt.typ); got != tt.want {
				t.Errorf("Subscribed(%q) with %v = %v, want %v", tt.typ, tt.events, got, tt.want)
			}
		})
	}
}
