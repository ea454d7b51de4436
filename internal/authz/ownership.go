package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

// ResourceGetter fetches a single resource from the external store.
// Implementations must return domain.ErrResourceNotFound when the store
// reports no such resource and domain.ErrUpstreamUnavailable when it
// cannot be reached within the configured timeout.
type ResourceGetter interface {
	GetResource(ctx context.Context, resourceType, resourceID string) (map[string]interface{}, error)
}

// OwnershipVerifier resolves whether a principal owns a remote resource by
// inspecting the ownership marker the external store attaches to it.
type OwnershipVerifier struct {
	store ResourceGetter
}

// NewOwnershipVerifier wires the verifier to the external store client.
func NewOwnershipVerifier(store ResourceGetter) *OwnershipVerifier {
	return &OwnershipVerifier{store: store}
}

// ownerMarkerFields is the ordered fallback list for the ownership marker.
// The upstream schema is inconsistent across resource types: newer records
// carry owner_email/owner_id, older ones only created_by_email/created_by_id.
// This shim is known technical debt, kept in one place on purpose.
var ownerMarkerFields = struct {
	emails []string
	ids    []string
}{
	emails: []string{"owner_email", "created_by_email"},
	ids:    []string{"owner_id", "created_by_id"},
}

// IsOwner reports whether the principal owns the resource. Errors from the
// external store propagate to the caller, where they must be treated as a
// denial, never as ownership.
func (v *OwnershipVerifier) IsOwner(ctx context.Context, principal *domain.User, resourceType, resourceID string) (bool, error) {
	if principal == nil {
		return false, nil
	}

	data, err := v.store.GetResource(ctx, resourceType, resourceID)
	if err != nil {
		return false, err
	}

	for _, field := range ownerMarkerFields.emails {
		if email, ok := stringField(data, field); ok {
			if strings.EqualFold(email, principal.Email) {
				return true, nil
			}
		}
	}
	for _, field := range ownerMarkerFields.ids {
		if id, ok := stringField(data, field); ok {
			if id == principal.ID {
				return true, nil
			}
		}
	}
	return false, nil
}

// stringField reads a marker field tolerant of the upstream returning
// numbers where ids are expected.
func stringField(data map[string]interface{}, key string) (string, bool) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", false
	}
	switch val := raw.(type) {
	case string:
		if val == "" {
			return "", false
		}
		return val, true
	case float64:
		return fmt.Sprintf("%.0f", val), true
	default:
		return "", false
	}
}
