package authz

import (
	"context"
	"errors"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

// Resource types the engine knows how to authorize.
const (
	ResourceGame    = "game"
	ResourceStudio  = "studio"
	ResourceUser    = "user"
	ResourceRole    = "role"
	ResourceSyncLog = "sync_log"
)

// Verbs derived from the HTTP method of a route.
const (
	VerbRead   = "read"
	VerbCreate = "create"
	VerbUpdate = "update"
	VerbDelete = "delete"
)

// publicActions is the statically-declared public set: catalog reads
// (listing, search, statistics) and role/permission lookups need no
// principal at all.
var publicActions = map[Permission]bool{
	PermGameRead:   true,
	PermStudioRead: true,
	PermRoleRead:   true,
}

// ownershipScopedResources are the resource types whose mutations are
// restricted to the owning principal for the developer role.
var ownershipScopedResources = map[string]bool{
	ResourceGame:   true,
	ResourceStudio: true,
}

// Request describes one authorization question: an action (resource+verb)
// optionally targeting a specific resource, on behalf of a principal that
// may be absent for public routes.
type Request struct {
	Resource   string
	Verb       string
	Principal  *domain.User
	ResourceID string
}

// Action returns the permission gating this request.
func (r Request) Action() Permission {
	return Permission(r.Resource + ":" + r.Verb)
}

// Decision is the outcome of an authorization check. Reason is nil when
// Allowed is true; otherwise it carries the denial sentinel (and, for
// upstream failures, the wrapped cause).
type Decision struct {
	Allowed bool
	Reason  error
}

func allow() Decision            { return Decision{Allowed: true} }
func deny(reason error) Decision { return Decision{Reason: reason} }

// Engine is the authorization decision procedure: public-set check, then
// authentication, then role permission, then ownership for the
// ownership-scoped role.
type Engine struct {
	registry *Registry
	owner    *OwnershipVerifier
}

// NewEngine builds the engine from its two collaborators.
func NewEngine(registry *Registry, owner *OwnershipVerifier) *Engine {
	return &Engine{registry: registry, owner: owner}
}

// Registry exposes the engine's permission registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Authorize evaluates the request. The role-level permission is always
// checked before ownership: a role without the base permission is denied
// even when the principal happens to own the resource. Any upstream
// failure during the ownership check denies the request.
func (e *Engine) Authorize(ctx context.Context, req Request) Decision {
	if publicActions[req.Action()] {
		return allow()
	}

	if req.Principal == nil || !req.Principal.IsActive {
		return deny(domain.ErrUnauthenticated)
	}

	ok, err := e.registry.HasPermission(req.Principal.Role, req.Action())
	if err != nil {
		// A principal carrying a role outside the registry has no
		// capabilities at all.
		return deny(domain.ErrInsufficientPermissions)
	}
	if !ok {
		return deny(domain.ErrInsufficientPermissions)
	}

	if req.Principal.Role == domain.RoleDeveloper &&
		ownershipScopedResources[req.Resource] &&
		req.ResourceID != "" {
		isOwner, err := e.owner.IsOwner(ctx, req.Principal, req.Resource, req.ResourceID)
		if err != nil {
			if errors.Is(err, domain.ErrResourceNotFound) {
				return deny(err)
			}
			// Deny-by-default: an unreachable store is never "is owner".
			return deny(domain.ErrUpstreamUnavailable)
		}
		if !isOwner {
			return deny(domain.ErrNotResourceOwner)
		}
	}

	return allow()
}
