package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func signTestToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func runMiddleware(t *testing.T, authHeader string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/wallet/balance", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := JWTMiddleware(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("middleware error: %v", err)
	}
	return rec, c
}

func TestJWTMiddlewareSetsIdentity(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token := signTestToken(t, "test-secret", jwt.MapClaims{
		"user_id": "u1",
		"name":    "alice",
		"role":    "stacker",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	rec, c := runMiddleware(t, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got, _ := c.Get("user_id").(string); got != "u1" {
		t.Errorf("expected user_id u1, got %q", got)
	}
	if got, _ := c.Get("name").(string); got != "alice" {
		t.Errorf("expected name alice, got %q", got)
	}
	if got, _ := c.Get("role").(string); got != "stacker" {
		t.Errorf("expected role stacker, got %q", got)
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.token"},
		{"wrong secret", "Bearer " + signTestToken(t, "other-secret", jwt.MapClaims{
			"user_id": "u1",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})},
		{"expired", "Bearer " + signTestToken(t, "test-secret", jwt.MapClaims{
			"user_id": "u1",
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})},
		{"no user_id claim", "Bearer " + signTestToken(t, "test-secret", jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := runMiddleware(t, tc.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	e := echo.New()
	handler := RequireRoles("admin")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	run := func(role string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/withdrawals", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if role != "" {
			c.Set("role", role)
		}
		if err := handler(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		return rec.Code
	}

	if code := run("admin"); code != http.StatusOK {
		t.Errorf("admin should pass, got %d", code)
	}
	if code := run("stacker"); code != http.StatusForbidden {
		t.Errorf("stacker should be denied, got %d", code)
	}
	if code := run(""); code != http.StatusForbidden {
		t.Errorf("missing role should be denied, got %d", code)
	}
}
