package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", JWTMiddleware(testSecret, audience), func(c *gin.Context) {
		subject, _ := GetSubject(c.Request.Context())
		c.String(http.StatusOK, subject)
	})
	return r
}

func TestJWTMiddleware(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "operator-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	tests := []struct {
		name     string
		audience string
		header   string
		wantCode int
		wantBody string
	}{
		{name: "missing header", wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "bad signature", header: "Bearer " + signToken(t, "other", valid), wantCode: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}), wantCode: http.StatusUnauthorized},
		{name: "missing subject", header: "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{ExpiresAt: valid.ExpiresAt}), wantCode: http.StatusUnauthorized},
		{name: "wrong audience", audience: "face-login", header: "Bearer " + signToken(t, testSecret, valid), wantCode: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + signToken(t, testSecret, valid), wantCode: http.StatusOK, wantBody: "operator-1"},
		{
			name:     "valid with audience",
			audience: "face-login",
			header: "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{
				Subject:   "operator-2",
				Audience:  jwt.ClaimStrings{"face-login"},
				ExpiresAt: valid.ExpiresAt,
			}),
			wantCode: http.StatusOK,
			wantBody: "operator-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			newRouter(tt.audience).ServeHTTP(resp, req)

			if resp.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d (%s)", tt.wantCode, resp.Code, resp.Body.String())
			}
			if tt.wantBody != "" && resp.Body.String() != tt.wantBody {
				t.Fatalf("expected body %q, got %q", tt.wantBody, resp.Body.String())
			}
		})
	}
}

func TestGetSubjectWithoutValue(t *testing.T) {
	if _, ok := GetSubject(context.Background()); ok {
		t.Fatal("expected no subject on a bare context")
	}
}
