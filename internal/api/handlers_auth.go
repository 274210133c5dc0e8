package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/auth"
)

// login handles POST /api/v1/auth/login. Credentials are checked against the
// operator accounts from the server configuration.
func (s *Server) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := s.validate.Struct(&req); err != nil {
		return err
	}

	user, err := s.authMiddle.JWT().Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserDisabled) {
			return echo.NewHTTPError(http.StatusUnauthorized, "user account is disabled")
		}
		s.logger.Warn("failed login attempt", zap.String("username", req.Username))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}

	token, err := s.authMiddle.JWT().GenerateToken(user)
	if err != nil {
		return InternalError("Failed to generate token", err.Error())
	}

	return c.JSON(http.StatusOK, LoginResponse{
		Username:    user.Username,
		Roles:       user.Roles,
		AccessToken: token.AccessToken,
		ExpiresAt:   token.ExpiresAt,
		TokenType:   token.TokenType,
	})
}

// me handles GET /api/v1/auth/me. With authentication disabled there is no
// identity to report; the response says so instead of failing.
func (s *Server) me(c echo.Context) error {
	claims, ok := auth.GetClaims(c)
	if !ok {
		return c.JSON(http.StatusOK, MeResponse{AuthEnabled: s.config.Security.AuthEnabled})
	}

	resp := MeResponse{
		Username:    claims.Username,
		Roles:       claims.Roles,
		AuthEnabled: true,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = &claims.ExpiresAt.Time
	}
	return c.JSON(http.StatusOK, resp)
}
