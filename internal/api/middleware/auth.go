package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/metamax/dashboard/internal/core/domain"
)

// Context keys set by Auth.
const (
	IdentityKey = "identity"
	RoleKey     = "role"
)

// UserLookup resolves an access token through the identity provider.
type UserLookup interface {
	GetUser(ctx context.Context, accessToken string) (*domain.Identity, error)
}

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Auth validates the bearer token and injects the caller's identity into the
// context. With a project JWT secret tokens are verified locally (HS256);
// otherwise every token is checked against the provider.
func Auth(jwtSecret string, users UserLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}

			var (
				identity *domain.Identity
				err      error
			)
			if jwtSecret != "" {
				identity, err = verifyLocal(parts[1], jwtSecret)
			} else {
				identity, err = verifyRemote(c.Request().Context(), users, parts[1])
			}
			if err != nil {
				return err
			}

			c.Set(IdentityKey, identity)
			c.Set(RoleKey, identity.Role)
			return next(c)
		}
	}
}

func verifyLocal(token, secret string) (*domain.Identity, error) {
	claims := &accessClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return &domain.Identity{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

func verifyRemote(ctx context.Context, users UserLookup, token string) (*domain.Identity, error) {
	if users == nil {
		return nil, errors.New("auth middleware: no token verifier configured")
	}
	identity, err := users.GetUser(ctx, token)
	switch {
	case err == nil:
		if identity.Role == "" {
			identity.Role = domain.RoleAuthenticated
		}
		return identity, nil
	case errors.Is(err, domain.ErrInvalidCredentials):
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	case errors.Is(err, domain.ErrNetwork):
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "identity provider unavailable")
	default:
		return nil, err
	}
}
