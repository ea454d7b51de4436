package security

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash %q does not use the argon2id format", hash)
	}

	match, err := ComparePassword("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("ComparePassword() error: %v", err)
	}
	if !match {
		t.Error("correct password did not match")
	}

	match, err = ComparePassword("wrong password", hash)
	if err != nil {
		t.Fatalf("ComparePassword() error: %v", err)
	}
	if match {
		t.Error("wrong password matched")
	}
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	h1, _ := HashPassword("same password")
	h2, _ := HashPassword("same password")
	if h1 == h2 {
		t.Error("two hashes of the same password are identical, salt is not random")
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	a := HashToken("some-token")
	b := HashToken("some-token")
	if a != b {
		t.Error("HashToken is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("HashToken length = %d, want 64 hex chars", len(a))
	}
	if a == HashToken("other-token") {
		t.Error("different tokens produced the same hash")
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, hashes, err := GenerateBackupCodes(8)
	if err != nil {
		t.Fatalf("GenerateBackupCodes() error: %v", err)
	}
	if len(codes) != 8 || len(hashes) != 8 {
		t.Fatalf("got %d codes and %d hashes, want 8 each", len(codes), len(hashes))
	}

	seen := make(map[string]bool)
	for i, code := range codes {
		if seen[code] {
			t.Errorf("duplicate backup code %q", code)
		}
		seen[code] = true

		parts := strings.Split(code, "-")
		if len(parts) != 2 || len(parts[0]) != 5 || len(parts[1]) != 5 {
			t.Errorf("code %q does not match the XXXXX-XXXXX format", code)
		}
		if HashToken(code) != hashes[i] {
			t.Errorf("hash mismatch for code %q", code)
		}
	}
}

func TestTOTPRoundTrip(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatalf("GenerateTOTPSecret() error: %v", err)
	}
	if secret == "" {
		t.Fatal("empty secret")
	}

	uri := TOTPProvisioningURI("dev@example.com", secret)
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Errorf("provisioning URI %q is not an otpauth URI", uri)
	}
	if !strings.Contains(uri, secret) {
		t.Error("provisioning URI does not carry the secret")
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode() error: %v", err)
	}
	if !VerifyTOTPCode(code, secret) {
		t.Error("freshly generated code did not validate")
	}
	if VerifyTOTPCode("000000", secret) && code != "000000" {
		t.Error("constant code validated")
	}
}
