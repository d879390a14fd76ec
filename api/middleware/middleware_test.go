package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

const testSecret = "test-secret"

type userMap map[string]*models.User

func (m userMap) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return m[email], nil
}

func signToken(t *testing.T, secret, subject string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func authRouter(users UserLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	am := NewAuthMiddleware(testSecret, users, logger.NewTestLogger())
	r := gin.New()
	r.Use(am.RequireAuth())
	r.GET("/me", func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, user.Email)
	})
	r.GET("/admin", AdminOnly(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestRequireAuth(t *testing.T) {
	users := userMap{
		"alice@example.com": {Email: "alice@example.com"},
		"root@example.com":  {Email: "root@example.com", Role: models.RoleAdmin},
	}
	r := authRouter(users)

	tests := []struct {
		name   string
		header string
		path   string
		want   int
	}{
		{"valid", "Bearer " + signToken(t, testSecret, "alice@example.com", time.Minute), "/me", http.StatusOK},
		{"lowercase scheme", "bearer " + signToken(t, testSecret, "alice@example.com", time.Minute), "/me", http.StatusOK},
		{"missing header", "", "/me", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", "/me", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", "alice@example.com", time.Minute), "/me", http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, "alice@example.com", -time.Minute), "/me", http.StatusUnauthorized},
		{"unknown user", "Bearer " + signToken(t, testSecret, "bob@example.com", time.Minute), "/me", http.StatusUnauthorized},
		{"non admin", "Bearer " + signToken(t, testSecret, "alice@example.com", time.Minute), "/admin", http.StatusForbidden},
		{"admin", "Bearer " + signToken(t, testSecret, "root@example.com", time.Minute), "/admin", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("want=%d got=%d body=%s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Errorf("missing WWW-Authenticate header")
			}
		})
	}
}

func TestRejectsOtherSigningMethods(t *testing.T) {
	r := authRouter(userMap{"alice@example.com": {Email: "alice@example.com"}})
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "alice@example.com"})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("want=%d got=%d", http.StatusUnauthorized, w.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.NewTestLogger()
	r := gin.New()
	r.Use(RequestLogger(log))
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = logger.RequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	id := w.Header().Get(RequestIDHeader)
	if id == "" || id != seen {
		t.Fatalf("request id header=%q context=%q", id, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "fixed-id" {
		t.Errorf("want=fixed-id got=%q", got)
	}

	if n := len(log.EntriesAt("INFO", "HTTP request")); n != 1 {
		t.Errorf("info entries want=1 got=%d", n)
	}
	if n := len(log.EntriesAt("ERROR", "HTTP request")); n != 1 {
		t.Errorf("error entries want=1 got=%d", n)
	}
}
