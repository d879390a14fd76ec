package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

const currentUserKey = "current_user"

// UserLookup resolves the token subject to a stored user, nil when unknown.
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

const invalidTokenMessage = "Access token is not valid"

var errInvalidToken = errors.New("invalid access token")

type AuthMiddleware struct {
	secret []byte
	users  UserLookup
	logger logger.Logger
}

func NewAuthMiddleware(secret string, users UserLookup, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret), users: users, logger: log.Named("auth")}
}

// RequireAuth accepts an HS256 bearer token whose "sub" claim is the user's email.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthorized(c, "missing or invalid authorization header")
			return
		}
		email, err := am.subject(token)
		if err != nil {
			am.logger.Debug("Rejected access token", logger.Error(err))
			unauthorized(c, invalidTokenMessage)
			return
		}

		user, err := am.users.GetByEmail(c.Request.Context(), email)
		if err != nil {
			am.logger.Error("Failed to load user", logger.String("email", email), logger.Error(err))
			unauthorized(c, invalidTokenMessage)
			return
		}
		if user == nil {
			unauthorized(c, invalidTokenMessage)
			return
		}

		c.Set(currentUserKey, user)
		c.Request = c.Request.WithContext(logger.ContextWithUserID(c.Request.Context(), user.Email))
		c.Next()
	}
}

func (am *AuthMiddleware) subject(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// AdminOnly must run after RequireAuth.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin privileges required",
			})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user stored by RequireAuth.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

// SetCurrentUser is used by tests that bypass token parsing.
func SetCurrentUser(c *gin.Context, user *models.User) {
	c.Set(currentUserKey, user)
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}
