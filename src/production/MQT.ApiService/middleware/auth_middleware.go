package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

// Key types for request context
type contextKey string

const (
	// Context keys
	UserIDContextKey   contextKey = "user_id"
	UserInfoContextKey contextKey = "user_info"
)

// Verifier turns a bearer token into the identity it carries
type Verifier interface {
	Verify(token string) (mqtmodels.UserInfo, error)
}

// AuthMiddleware guards the REST routes with the same tokens the socket uses
type AuthMiddleware struct {
	verifier Verifier
	config   Config
}

// Config holds middleware configuration
type Config struct {
	// HTTP header name for the bearer token
	AccessTokenHeader string

	// Query parameter accepted when the header is absent (browser sockets
	// cannot set headers)
	AccessTokenQuery string
}

// DefaultConfig returns a default middleware configuration
func DefaultConfig() Config {
	return Config{
		AccessTokenHeader: "Authorization",
		AccessTokenQuery:  "token",
	}
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(verifier Verifier, config Config) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		config:   config,
	}
}

// ExtractToken gets a token from the query string first, then the
// Authorization header
func ExtractToken(r *http.Request, headerName, queryName string) string {
	if queryName != "" {
		if token := r.URL.Query().Get(queryName); token != "" {
			return token
		}
	}

	token := r.Header.Get(headerName)
	if strings.HasPrefix(token, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	}
	return token
}

// Token extracts the request token using this middleware's config
func (m *AuthMiddleware) Token(r *http.Request) string {
	return ExtractToken(r, m.config.AccessTokenHeader, m.config.AccessTokenQuery)
}

// Verify checks a token extracted outside the gin chain, e.g. before a
// socket upgrade
func (m *AuthMiddleware) Verify(token string) (mqtmodels.UserInfo, error) {
	return m.verifier.Verify(token)
}

// Authenticate middleware verifies the bearer token
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := m.verifier.Verify(m.Token(c.Request))
		if err != nil {
			message := mqtmodels.MsgInvalidToken
			var authErr *mqtmodels.AuthError
			if errors.As(err, &authErr) {
				message = authErr.Message
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": message})
			c.Abort()
			return
		}

		c.Set(string(UserIDContextKey), user.ID)
		c.Set(string(UserInfoContextKey), user)

		c.Next()
	}
}

// GetUserFromGinContext retrieves user ID from Gin context
func GetUserFromGinContext(c *gin.Context) (int64, error) {
	userIDVal, exists := c.Get(string(UserIDContextKey))
	if !exists {
		return 0, errors.New("user not found in context")
	}

	userID, ok := userIDVal.(int64)
	if !ok {
		return 0, errors.New("invalid user ID format in context")
	}

	return userID, nil
}

// GetUserInfoFromGinContext retrieves the full identity from Gin context
func GetUserInfoFromGinContext(c *gin.Context) (mqtmodels.UserInfo, bool) {
	val, exists := c.Get(string(UserInfoContextKey))
	if !exists {
		return mqtmodels.UserInfo{}, false
	}
	user, ok := val.(mqtmodels.UserInfo)
	return user, ok
}
