package http

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/arcade-gateway/internal/authz"
	"github.com/FilipeAphrody/arcade-gateway/internal/usecase"
)

// CatalogHandler exposes the proxied game and studio endpoints. Reads are
// public; every mutation goes through the decision engine, which checks
// role permission first and ownership second.
type CatalogHandler struct {
	usecase *usecase.CatalogUsecase
}

// NewCatalogHandler registers the catalog proxy routes.
func NewCatalogHandler(e *echo.Group, u *usecase.CatalogUsecase, auth *Authenticator) {
	handler := &CatalogHandler{usecase: u}
	api := e.Group("/api")

	api.GET("/games", handler.proxy(authz.ResourceGame, authz.VerbRead, false, ""), auth.OptionalAuth)
	api.GET("/games/search", handler.proxy(authz.ResourceGame, authz.VerbRead, false, "search"), auth.OptionalAuth)
	api.GET("/games/categories", handler.proxy(authz.ResourceGame, authz.VerbRead, false, "categories"), auth.OptionalAuth)
	api.GET("/games/statistics", handler.proxy(authz.ResourceGame, authz.VerbRead, false, "statistics"), auth.OptionalAuth)
	api.GET("/games/:id", handler.proxy(authz.ResourceGame, authz.VerbRead, true, ""), auth.OptionalAuth)
	api.POST("/games", handler.proxy(authz.ResourceGame, authz.VerbCreate, false, ""), auth.RequireAuth)
	api.PUT("/games/:id", handler.proxy(authz.ResourceGame, authz.VerbUpdate, true, ""), auth.RequireAuth)
	api.DELETE("/games/:id", handler.proxy(authz.ResourceGame, authz.VerbDelete, true, ""), auth.RequireAuth)

	api.GET("/studios", handler.proxy(authz.ResourceStudio, authz.VerbRead, false, ""), auth.OptionalAuth)
	api.GET("/studios/countries", handler.proxy(authz.ResourceStudio, authz.VerbRead, false, "countries"), auth.OptionalAuth)
	api.GET("/studios/:id", handler.proxy(authz.ResourceStudio, authz.VerbRead, true, ""), auth.OptionalAuth)
	api.GET("/studios/:id/games", handler.proxy(authz.ResourceStudio, authz.VerbRead, true, "games"), auth.OptionalAuth)
	api.POST("/studios", handler.proxy(authz.ResourceStudio, authz.VerbCreate, false, ""), auth.RequireAuth)
	api.PUT("/studios/:id", handler.proxy(authz.ResourceStudio, authz.VerbUpdate, true, ""), auth.RequireAuth)
	api.DELETE("/studios/:id", handler.proxy(authz.ResourceStudio, authz.VerbDelete, true, ""), auth.RequireAuth)

	// Sync logs track upstream catalog imports. Read-only, and never
	// public: the engine limits them to roles holding sync_log:read.
	api.GET("/sync-logs", handler.proxy(authz.ResourceSyncLog, authz.VerbRead, false, ""), auth.RequireAuth)
	api.GET("/sync-logs/recent", handler.proxy(authz.ResourceSyncLog, authz.VerbRead, false, "recent"), auth.RequireAuth)
	api.GET("/sync-logs/statistics", handler.proxy(authz.ResourceSyncLog, authz.VerbRead, false, "statistics"), auth.RequireAuth)
	api.GET("/sync-logs/:id", handler.proxy(authz.ResourceSyncLog, authz.VerbRead, true, ""), auth.RequireAuth)
}

// proxy builds an echo handler that authorizes the operation and relays
// it upstream verbatim. suffix covers the static sub-routes the catalog
// serves under a collection (search, categories, statistics, countries,
// a studio's games).
func (h *CatalogHandler) proxy(resource, verb string, withID bool, suffix string) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := usecase.ProxyRequest{
			Principal: principalFrom(c),
			Resource:  resource,
			Verb:      verb,
			Method:    c.Request().Method,
			Path:      upstreamPath(resource, c.Param("id"), suffix),
			Query:     c.QueryParams(),
		}
		if withID {
			req.ResourceID = c.Param("id")
		}

		if c.Request().Body != nil {
			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read request body"})
			}
			req.Body = body
		}

		resp, err := h.usecase.Proxy(c.Request().Context(), req)
		if err != nil {
			return writeError(c, err)
		}

		contentType := echo.MIMETextPlain
		if resp.IsJSON {
			contentType = echo.MIMEApplicationJSON
		}
		return c.Blob(resp.StatusCode, contentType, resp.Body)
	}
}

// collections maps an authorization resource to its upstream path segment.
var collections = map[string]string{
	authz.ResourceGame:    "games",
	authz.ResourceStudio:  "studios",
	authz.ResourceSyncLog: "sync-logs",
}

func upstreamPath(resource, id, suffix string) string {
	path := "/" + collections[resource]
	if id != "" {
		path += "/" + id
	}
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}
