package otpvalidator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

// tokenSlack is subtracted from the advertised token lifetime so we never
// present a token that expires mid-flight.
const tokenSlack = 60 * time.Second

// discoveryTTL bounds how long the realm's OpenID discovery document is
// cached before it is fetched again.
const discoveryTTL = time.Hour

// KeycloakValidator verifies one-time codes against an external Keycloak
// realm. The gateway holds a confidential client with permission to manage
// OTP credentials for realm users.
type KeycloakValidator struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu            sync.Mutex
	serviceTok    string
	tokExpiry     time.Time
	tokenEndpoint string
	discExpiry    time.Time
	refreshCall   singleflight.Group
}

// NewKeycloakValidator creates a validator for the given realm.
func NewKeycloakValidator(baseURL, realm, clientID, clientSecret string, timeout time.Duration) *KeycloakValidator {
	return &KeycloakValidator{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// serviceToken returns a valid service-account token, fetching a fresh one
// when the cached token has expired. Concurrent callers share a single
// refresh request.
func (k *KeycloakValidator) serviceToken(ctx context.Context) (string, error) {
	k.mu.Lock()
	if k.serviceTok != "" && time.Now().Before(k.tokExpiry) {
		tok := k.serviceTok
		k.mu.Unlock()
		return tok, nil
	}
	k.mu.Unlock()

	v, err, _ := k.refreshCall.Do("token", func() (interface{}, error) {
		return k.fetchServiceToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// discover resolves the realm's token endpoint from its OpenID discovery
// document. The document is cached; concurrent callers share one fetch.
func (k *KeycloakValidator) discover(ctx context.Context) (string, error) {
	k.mu.Lock()
	if k.tokenEndpoint != "" && time.Now().Before(k.discExpiry) {
		endpoint := k.tokenEndpoint
		k.mu.Unlock()
		return endpoint, nil
	}
	k.mu.Unlock()

	v, err, _ := k.refreshCall.Do("discovery", func() (interface{}, error) {
		endpoint := fmt.Sprintf("%s/realms/%s/.well-known/openid-configuration", k.baseURL, k.realm)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("failed to build discovery request: %w", err)
		}

		resp, err := k.httpClient.Do(req)
		if err != nil {
			return "", domain.ErrUpstreamUnavailable
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
		}

		var doc struct {
			TokenEndpoint string `json:"token_endpoint"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return "", fmt.Errorf("failed to decode discovery document: %w", err)
		}
		if doc.TokenEndpoint == "" {
			return "", fmt.Errorf("discovery document has no token endpoint")
		}

		k.mu.Lock()
		k.tokenEndpoint = doc.TokenEndpoint
		k.discExpiry = time.Now().Add(discoveryTTL)
		k.mu.Unlock()
		return doc.TokenEndpoint, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (k *KeycloakValidator) fetchServiceToken(ctx context.Context) (string, error) {
	endpoint, err := k.discover(ctx)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", k.clientID)
	form.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", domain.ErrUpstreamUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	lifetime := time.Duration(tok.ExpiresIn)*time.Second - tokenSlack
	if lifetime < 0 {
		lifetime = 0
	}

	k.mu.Lock()
	k.serviceTok = tok.AccessToken
	k.tokExpiry = time.Now().Add(lifetime)
	k.mu.Unlock()

	return tok.AccessToken, nil
}

// EnrollUser provisions a realm user for OTP delivery and returns the
// external reference stored against the gateway user.
func (k *KeycloakValidator) EnrollUser(ctx context.Context, email string) (string, error) {
	tok, err := k.serviceToken(ctx)
	if err != nil {
		return "", err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"username":        email,
		"email":           email,
		"enabled":         true,
		"requiredActions": []string{"CONFIGURE_TOTP"},
	})
	endpoint := fmt.Sprintf("%s/admin/realms/%s/users", k.baseURL, k.realm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("failed to build enroll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", domain.ErrUpstreamUnavailable
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		// Keycloak returns the new user's URL in the Location header.
		loc := resp.Header.Get("Location")
		parts := strings.Split(strings.TrimRight(loc, "/"), "/")
		return parts[len(parts)-1], nil
	case http.StatusConflict:
		return k.lookupUser(ctx, email)
	default:
		return "", fmt.Errorf("enroll returned status %d", resp.StatusCode)
	}
}

func (k *KeycloakValidator) lookupUser(ctx context.Context, email string) (string, error) {
	tok, err := k.serviceToken(ctx)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/admin/realms/%s/users?email=%s&exact=true", k.baseURL, k.realm, url.QueryEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", domain.ErrUpstreamUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup returned status %d", resp.StatusCode)
	}

	var users []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return "", fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if len(users) == 0 {
		return "", domain.ErrUserNotFound
	}
	return users[0].ID, nil
}

// VerifyCode checks a one-time code for the referenced realm user. Any
// connectivity failure is reported as upstream unavailability so the
// caller never counts it as a wrong code.
func (k *KeycloakValidator) VerifyCode(ctx context.Context, externalRef, code string) (bool, error) {
	tok, err := k.serviceToken(ctx)
	if err != nil {
		return false, err
	}

	payload, _ := json.Marshal(map[string]string{"otp": code})
	endpoint := fmt.Sprintf("%s/realms/%s/otp/%s/verify", k.baseURL, k.realm, url.PathEscape(externalRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return false, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return false, domain.ErrUpstreamUnavailable
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
		return false, nil
	default:
		return false, domain.ErrUpstreamUnavailable
	}
}

// RemoveUser deletes the realm user when two-factor is disabled. A
// missing user is not an error.
func (k *KeycloakValidator) RemoveUser(ctx context.Context, externalRef string) error {
	tok, err := k.serviceToken(ctx)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/admin/realms/%s/users/%s", k.baseURL, k.realm, url.PathEscape(externalRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return domain.ErrUpstreamUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete returned status %d", resp.StatusCode)
	}
	return nil
}
