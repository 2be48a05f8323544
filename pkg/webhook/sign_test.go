package webhook

import "testing"

func TestSign_MatchesFixedFormat(t *testing.T) {
	sig := Sign("whsec_test", 1700000000, []byte(`{"id":"evt-1"}`))
	const prefix = "sha256=v1="
	if len(sig) <= len(prefix) || sig[:len(prefix)] != prefix {
		t.Fatalf("signature %q does not start with %q", sig, prefix)
	}
}

func TestSign_IsDeterministic(t *testing.T) {
	body := []byte(`{"id":"evt-1","type":"checkpoint.created"}`)
	a := Sign("whsec_test", 1700000000, body)
	b := Sign("whsec_test", 1700000000, body)
	if a != b {
		t.Fatalf("expected deterministic signature, got %q and %q", a, b)
	}
}

func TestSign_DiffersByTimestamp(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	a := Sign("whsec_test", 1700000000, body)
	b := Sign("whsec_test", 1700000001, body)
	if a == b {
		t.Fatal("expected different timestamps to produce different signatures")
	}
}

func TestSign_DiffersBySecret(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	a := Sign("whsec_one", 1700000000, body)
	b := Sign("whsec_two", 1700000000, body)
	if a == b {
		t.Fatal("expected different secrets to produce different signatures")
	}
}

func TestVerify_AcceptsMatchingSignature(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	sig := Sign("whsec_test", 1700000000, body)
	if !Verify("whsec_test", 1700000000, body, sig) {
		t.Fatal("expected matching signature to verify")
	}
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	sig := Sign("whsec_test", 1700000000, []byte(`{"id":"evt-1"}`))
	if Verify("whsec_test", 1700000000, []byte(`{"id":"evt-2"}`), sig) {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	sig := Sign("whsec_test", 1700000000, body)
	if Verify("whsec_wrong", 1700000000, body, sig) {
		t.Fatal("expected wrong secret to fail verification")
	}
}
