// Package auth provides operator authentication (JWT with role claims, bcrypt
// password verification against config-defined accounts) and agent
// authentication (per-entity API keys).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/louissader/homelab-infrastructure-monitor/internal/config"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

var (
	// ErrInvalidToken is returned when a JWT token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a JWT token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidCredentials is returned when credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserDisabled is returned when a user account is disabled.
	ErrUserDisabled = errors.New("user account is disabled")
)

const defaultExpiration = 24 * time.Hour

// Claims are the JWT custom claims carried by operator tokens.
type Claims struct {
	Username string        `json:"username"`
	Roles    []models.Role `json:"roles"`
	jwt.RegisteredClaims
}

// Token is a signed operator token with its expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"`
}

// JWTService signs and validates operator tokens and checks credentials
// against the accounts from the server configuration.
type JWTService struct {
	secret     []byte
	expiration time.Duration
	users      []models.User
}

// NewJWTService creates a JWT service from the security configuration.
func NewJWTService(cfg *config.Config) *JWTService {
	expiration := cfg.Security.JWTExpiration
	if expiration <= 0 {
		expiration = defaultExpiration
	}
	return &JWTService{
		secret:     []byte(cfg.Security.JWTSecret),
		expiration: expiration,
		users:      cfg.Security.Users,
	}
}

// Authenticate verifies a username/password pair against the configured
// accounts.
func (s *JWTService) Authenticate(username, password string) (*models.User, error) {
	var found *models.User
	for i := range s.users {
		if s.users[i].Username == username {
			found = &s.users[i]
			break
		}
	}
	if found == nil {
		return nil, ErrInvalidCredentials
	}
	if err := ComparePassword(password, found.PasswordHash); err != nil {
		return nil, err
	}
	if found.Disabled {
		return nil, ErrUserDisabled
	}
	user := *found
	return &user, nil
}

// GenerateToken signs a new access token for the user.
func (s *JWTService) GenerateToken(user *models.User) (*Token, error) {
	if user.Disabled {
		return nil, ErrUserDisabled
	}

	now := time.Now()
	expiresAt := now.Add(s.expiration)

	claims := Claims{
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "monitord",
			Subject:   user.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{
		AccessToken: signed,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	}, nil
}

// ValidateToken validates a JWT token and returns its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// HashPassword hashes a password with bcrypt; used by the token command to
// produce config-ready digests.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword compares a password with its bcrypt hash.
func ComparePassword(password, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}
