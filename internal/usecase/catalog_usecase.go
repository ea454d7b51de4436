package usecase

import (
	"context"
	"net/url"

	"github.com/FilipeAphrody/arcade-gateway/internal/authz"
	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
	"github.com/FilipeAphrody/arcade-gateway/internal/upstream"
)

// Forwarder relays an already-authorized request to the catalog service.
type Forwarder interface {
	Forward(ctx context.Context, method, path string, query url.Values, body []byte, userEmail string) (*upstream.Response, error)
}

// CatalogUsecase authorizes catalog operations and proxies the allowed
// ones upstream. The gateway never interprets catalog payloads beyond the
// ownership fields.
type CatalogUsecase struct {
	engine  *authz.Engine
	catalog Forwarder
}

func NewCatalogUsecase(engine *authz.Engine, catalog Forwarder) *CatalogUsecase {
	return &CatalogUsecase{engine: engine, catalog: catalog}
}

// ProxyRequest describes one catalog operation to authorize and forward.
type ProxyRequest struct {
	Principal  *domain.User
	Resource   string
	Verb       string
	ResourceID string

	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Proxy runs the authorization decision and, when allowed, forwards the
// request. The decision is made entirely before any upstream mutation.
func (c *CatalogUsecase) Proxy(ctx context.Context, req ProxyRequest) (*upstream.Response, error) {
	decision := c.engine.Authorize(ctx, authz.Request{
		Resource:   req.Resource,
		Verb:       req.Verb,
		Principal:  req.Principal,
		ResourceID: req.ResourceID,
	})
	if !decision.Allowed {
		return nil, decision.Reason
	}

	email := ""
	if req.Principal != nil {
		email = req.Principal.Email
	}
	return c.catalog.Forward(ctx, req.Method, req.Path, req.Query, req.Body, email)
}
