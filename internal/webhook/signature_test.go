package webhook

import "testing"

func TestSignatureRoundTrip(t *testing.T) {
	secret := []byte("shared")
	body := []byte(`{"type":"issue.updated","issue":"ACME-7"}`)

	sig := SignBody(body, secret)
	if err := VerifySignature(body, sig, secret); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := []byte("shared")
	sig := SignBody([]byte(`{"type":"issue.updated"}`), secret)

	if err := VerifySignature([]byte(`{"type":"issue.deleted"}`), sig, secret); err == nil {
		t.Error("tampered body accepted")
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"type":"issue.updated"}`)
	sig := SignBody(body, []byte("one"))

	if err := VerifySignature(body, sig, []byte("two")); err == nil {
		t.Error("wrong secret accepted")
	}
}

func TestVerifySignature_Malformed(t *testing.T) {
	secret := []byte("shared")
	body := []byte(`{}`)

	if err := VerifySignature(body, "", secret); err == nil {
		t.Error("empty signature accepted")
	}
	if err := VerifySignature(body, "!!not-base64!!", secret); err == nil {
		t.Error("undecodable signature accepted")
	}
}
