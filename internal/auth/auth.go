// Package auth validates the service tokens peer services use to call this
// one. There are no end users here; callers are other backends (the profile
// service, the web gateway, operator tooling) identified by a JWT subject
// and a scope claim.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	callerKey = "auth_caller"
	scopeKey  = "auth_scope"

	// ScopeRead allows the query endpoints.
	ScopeRead = "read"
	// ScopeAdmin additionally allows ingestion triggers and queue inspection.
	ScopeAdmin = "admin"
)

var (
	jwtSecretOnce    sync.Once
	jwtSecretRuntime []byte
	jwtSecretErr     error
)

func jwtSecretFromEnv() ([]byte, error) {
	jwtSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
		if secret != "" {
			jwtSecretRuntime = []byte(secret)
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			jwtSecretErr = fmt.Errorf("failed to generate JWT fallback secret: %w", err)
			return
		}

		jwtSecretRuntime = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Print("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if jwtSecretErr != nil {
		return nil, jwtSecretErr
	}
	if len(jwtSecretRuntime) == 0 {
		return nil, errors.New("JWT secret unavailable")
	}
	return jwtSecretRuntime, nil
}

// Middleware validates the bearer token and stores the calling service and
// its scope on the request context.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}

		secretKey, err := jwtSecretFromEnv()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Server auth configuration error")
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secretKey, nil
		})
		if err != nil || !token.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
		}
		caller, err := claims.GetSubject()
		if err != nil || caller == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token subject")
		}

		scope := ScopeRead
		if s, ok := claims["scope"].(string); ok && s != "" {
			scope = s
		}

		c.Set(callerKey, caller)
		c.Set(scopeKey, scope)
		return next(c)
	}
}

// RequireAdmin gates an endpoint on the admin scope.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if scope, _ := c.Get(scopeKey).(string); scope != ScopeAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin scope required")
		}
		return next(c)
	}
}

// Caller returns the authenticated service name.
func Caller(c echo.Context) string {
	caller, _ := c.Get(callerKey).(string)
	return caller
}

// GenerateServiceToken mints a token for a peer service. Used by operator
// tooling; production services receive theirs from deployment config.
func GenerateServiceToken(service, scope string, ttl time.Duration) (string, error) {
	secretKey, err := jwtSecretFromEnv()
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"sub":   service,
		"scope": scope,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretKey)
}
