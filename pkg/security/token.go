package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClass distinguishes the three token families. Each class is signed
// with its own secret, so compromise of one class cannot mint another.
type TokenClass string

const (
	TokenAccess    TokenClass = "access"
	TokenRefresh   TokenClass = "refresh"
	TokenChallenge TokenClass = "pending_2fa"
)

// Verification errors.
var (
	ErrTokenExpired     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrMalformedToken   = errors.New("malformed token")
	ErrWrongTokenClass  = errors.New("unexpected token class")
)

// Claims carried by every gateway token. Fields beyond UserID and Type are
// populated per class: access tokens embed role and the 2FA-verified flag,
// challenge tokens embed the challenge id.
type Claims struct {
	UserID            string `json:"user_id"`
	Email             string `json:"email,omitempty"`
	Role              string `json:"role,omitempty"`
	TwoFactorVerified bool   `json:"two_factor_verified,omitempty"`
	ChallengeID       string `json:"challenge_id,omitempty"`
	TokenType         string `json:"type"`
	jwt.RegisteredClaims
}

// Secrets holds the signing secrets for the three token classes.
type Secrets struct {
	Access    string
	Refresh   string
	Challenge string
}

// Validate enforces the key invariant: all three secrets present and
// pairwise distinct. A misconfiguration here must prevent startup.
func (s Secrets) Validate() error {
	if s.Access == "" || s.Refresh == "" || s.Challenge == "" {
		return errors.New("all three token secrets must be set")
	}
	if s.Access == s.Refresh || s.Access == s.Challenge || s.Refresh == s.Challenge {
		return errors.New("access, refresh and challenge secrets must differ")
	}
	return nil
}

func (s Secrets) forClass(class TokenClass) (string, error) {
	switch class {
	case TokenAccess:
		return s.Access, nil
	case TokenRefresh:
		return s.Refresh, nil
	case TokenChallenge:
		return s.Challenge, nil
	default:
		return "", fmt.Errorf("unknown token class %q", class)
	}
}

// TokenService issues and verifies the gateway's three token classes.
type TokenService struct {
	secrets      Secrets
	issuer       string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	challengeTTL time.Duration
}

// NewTokenService validates the secrets and returns a ready service.
func NewTokenService(secrets Secrets, issuer string, accessTTL, refreshTTL, challengeTTL time.Duration) (*TokenService, error) {
	if err := secrets.Validate(); err != nil {
		return nil, err
	}
	if issuer == "" {
		issuer = "arcade-gateway"
	}
	return &TokenService{
		secrets:      secrets,
		issuer:       issuer,
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		challengeTTL: challengeTTL,
	}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// ChallengeTTL reports the configured challenge-token lifetime.
func (s *TokenService) ChallengeTTL() time.Duration { return s.challengeTTL }

// IssueAccessToken creates a short-lived access token. twoFactorVerified
// records whether the login that produced this token satisfied the second
// factor (directly or through an earlier full-factor authentication).
func (s *TokenService) IssueAccessToken(userID, email, role string, twoFactorVerified bool) (string, error) {
	return s.sign(Claims{
		UserID:            userID,
		Email:             email,
		Role:              role,
		TwoFactorVerified: twoFactorVerified,
		TokenType:         string(TokenAccess),
	}, s.secrets.Access, s.accessTTL)
}

// IssueRefreshToken creates a long-lived refresh token carrying only the
// principal id and the class marker.
func (s *TokenService) IssueRefreshToken(userID string) (string, error) {
	return s.sign(Claims{
		UserID:    userID,
		TokenType: string(TokenRefresh),
	}, s.secrets.Refresh, s.refreshTTL)
}

// IssueChallengeToken creates the short-lived "first factor passed, second
// factor pending" token bound to a specific challenge row.
func (s *TokenService) IssueChallengeToken(userID, challengeID string) (string, error) {
	return s.sign(Claims{
		UserID:      userID,
		ChallengeID: challengeID,
		TokenType:   string(TokenChallenge),
	}, s.secrets.Challenge, s.challengeTTL)
}

func (s *TokenService) sign(claims Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    s.issuer,
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Verify parses a token against the secret of the expected class and
// returns its claims. Failure modes are distinguished: ErrTokenExpired,
// ErrInvalidSignature, ErrMalformedToken, ErrWrongTokenClass.
func (s *TokenService) Verify(tokenString string, class TokenClass) (*Claims, error) {
	secret, err := s.secrets.forClass(class)
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformedToken
	}
	if claims.TokenType != string(class) {
		return nil, ErrWrongTokenClass
	}
	return claims, nil
}
