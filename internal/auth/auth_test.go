package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestGenerateAndValidate(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	token, err := tm.GenerateToken("feeder", ScopeIngest)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	claims, err := tm.Validate(token)
	if err != nil {
		t.Fatalf("Expected valid token, got %v", err)
	}
	if claims.Subject != "feeder" || !claims.HasScope(ScopeIngest) {
		t.Errorf("Unexpected claims %+v", claims)
	}

	if _, err := NewTokenManager("other", time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	tm := NewTokenManager("secret", -time.Minute)
	token, _ := tm.GenerateToken("feeder")
	if _, err := tm.Validate(token); err != nil {
		t.Fatalf("Non-positive ttl should not expire, got %v", err)
	}

	tm.ttl = time.Nanosecond
	token, _ = tm.GenerateToken("feeder")
	time.Sleep(1100 * time.Millisecond)
	if _, err := tm.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tm := NewTokenManager("secret", time.Hour)
	router := gin.New()
	router.POST("/bars", Middleware(tm, ScopeIngest), func(c *gin.Context) {
		c.String(http.StatusOK, GetClaims(c).Subject)
	})

	withScope, _ := tm.GenerateToken("feeder", ScopeIngest)
	withoutScope, _ := tm.GenerateToken("reader")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"missing scope", "Bearer " + withoutScope, http.StatusForbidden},
		{"valid", "Bearer " + withScope, http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/bars", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, w.Code)
		}
	}
}
