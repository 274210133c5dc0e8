package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/louissader/homelab-infrastructure-monitor/internal/config"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

const (
	// ContextKeyClaims is the key for storing JWT claims in context.
	ContextKeyClaims = "claims"
	// ContextKeyEntity is the key for the entity resolved from an agent key.
	ContextKeyEntity = "agent_entity"

	// HeaderAPIKey carries the agent key on ingest requests.
	HeaderAPIKey = "X-API-Key"
)

// Middleware guards API routes. Operator routes take Bearer JWTs; the ingest
// route also accepts per-entity agent keys. With auth disabled everything
// passes through untouched.
type Middleware struct {
	jwtService *JWTService
	entities   store.EntityStore
	config     *config.Config
}

// NewMiddleware creates the authentication middleware.
func NewMiddleware(cfg *config.Config, entities store.EntityStore) *Middleware {
	return &Middleware{
		jwtService: NewJWTService(cfg),
		entities:   entities,
		config:     cfg,
	}
}

// JWT exposes the underlying token service for the login handler.
func (m *Middleware) JWT() *JWTService {
	return m.jwtService
}

// RequireAuth requires a valid Bearer token.
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !m.config.Security.AuthEnabled {
			return next(c)
		}

		claims, err := m.bearerClaims(c)
		if err != nil {
			return err
		}
		c.Set(ContextKeyClaims, claims)
		return next(c)
	}
}

// RequireRole requires a valid Bearer token carrying any of the given roles.
func (m *Middleware) RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.Security.AuthEnabled {
				return next(c)
			}

			claims, ok := c.Get(ContextKeyClaims).(*Claims)
			if !ok {
				var err error
				claims, err = m.bearerClaims(c)
				if err != nil {
					return err
				}
				c.Set(ContextKeyClaims, claims)
			}

			for _, required := range roles {
				for _, role := range claims.Roles {
					if role == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
		}
	}
}

// RequireAdmin requires the admin role.
func (m *Middleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole(models.RoleAdmin)(next)
}

// RequireWrite requires a role that may mutate state.
func (m *Middleware) RequireWrite(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole(models.RoleAdmin, models.RoleOperator)(next)
}

// RequireRead requires any authenticated user.
func (m *Middleware) RequireRead(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireAuth(next)
}

// RequireAgentKey guards the ingest route. An X-API-Key header resolves to
// the entity that owns the key, which the handler must match against the
// request path. Without the header the request falls back to an operator
// token with write permission, so manual submissions keep working.
func (m *Middleware) RequireAgentKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !m.config.Security.AuthEnabled {
			return next(c)
		}

		key := c.Request().Header.Get(HeaderAPIKey)
		if key == "" {
			return m.RequireWrite(next)(c)
		}

		entity, err := m.entities.FindByAPIKeyHash(c.Request().Context(), HashAPIKey(key))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
		}
		c.Set(ContextKeyEntity, entity)
		return next(c)
	}
}

// bearerClaims extracts and validates the Authorization header.
func (m *Middleware) bearerClaims(c echo.Context) (*Claims, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
	}

	claims, err := m.jwtService.ValidateToken(parts[1])
	if err != nil {
		if err == ErrExpiredToken {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "token has expired")
		}
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return claims, nil
}

// GetClaims extracts JWT claims from the Echo context.
func GetClaims(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(ContextKeyClaims).(*Claims)
	return claims, ok
}

// GetAgentEntity extracts the entity resolved from an agent key, if any.
func GetAgentEntity(c echo.Context) (models.Entity, bool) {
	entity, ok := c.Get(ContextKeyEntity).(models.Entity)
	return entity, ok
}

// HasRole checks whether the current token carries a role.
func HasRole(c echo.Context, role models.Role) bool {
	claims, ok := GetClaims(c)
	if !ok {
		return false
	}
	for _, r := range claims.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the current token is an admin token.
func IsAdmin(c echo.Context) bool {
	return HasRole(c, models.RoleAdmin)
}
