package security

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret generates a random Base32 string compatible with TOTP
// authenticator apps.
func GenerateTOTPSecret() (string, error) {
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	// Google Authenticator requires Base32, not Base64
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret), nil
}

// TOTPProvisioningURI returns the otpauth URI for QR code generation
// (compatible with Google Authenticator).
func TOTPProvisioningURI(email, secret string) string {
	issuer := "ArcadeGateway"
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(issuer), url.PathEscape(email), secret, url.QueryEscape(issuer))
}

// VerifyTOTPCode checks if the provided 6-digit code is valid for the given secret.
func VerifyTOTPCode(code, secret string) bool {
	return totp.Validate(code, secret)
}

// backupCodeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const backupCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateBackupCodes produces n one-time recovery codes and their SHA-256
// hashes. The plaintext codes are shown to the user exactly once; only the
// hashes are stored.
func GenerateBackupCodes(n int) (codes []string, hashes []string, err error) {
	codes = make([]string, n)
	hashes = make([]string, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, 10)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, err
		}
		out := make([]byte, len(buf))
		for j, b := range buf {
			out[j] = backupCodeAlphabet[int(b)%len(backupCodeAlphabet)]
		}
		code := fmt.Sprintf("%s-%s", out[:5], out[5:])
		codes[i] = code
		hashes[i] = HashToken(code)
	}
	return codes, hashes, nil
}
