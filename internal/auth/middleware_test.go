package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newProtectedApp(mw fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/private", mw, func(c *fiber.Ctx) error {
		return c.SendString(Actor(c))
	})
	return app
}

func TestJWTMiddleware(t *testing.T) {
	app := newProtectedApp(JWTMiddleware("secret"))

	// missing token
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}

	// malformed header
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Token abc")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for non-bearer header")
	}

	// valid token
	token := signToken(t, "secret", Claims{
		RunnerID: "runner-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ok, got %d", resp.StatusCode)
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	app := newProtectedApp(JWTMiddleware("secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other", Claims{RunnerID: "r1"})},
		{"expired", signToken(t, "secret", Claims{
			RunnerID: "r1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			resp, _ := app.Test(req)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected unauthorized, got %d", resp.StatusCode)
			}
		})
	}
}

func TestJWTMiddlewareInvalidClaims(t *testing.T) {
	old := parseMiddlewareClaimsFn
	parseMiddlewareClaimsFn = func(_ string, _ jwt.Claims, _ jwt.Keyfunc, _ ...jwt.ParserOption) (*jwt.Token, error) {
		return &jwt.Token{Valid: false, Claims: &Claims{}}, nil
	}
	defer func() { parseMiddlewareClaimsFn = old }()

	app := newProtectedApp(JWTMiddleware("secret"))
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer abc")
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}
}

func TestActorFallsBackToSubject(t *testing.T) {
	app := newProtectedApp(JWTMiddleware("secret"))
	token := signToken(t, "secret", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "marshal-1"}})

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ := app.Test(req)
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "marshal-1" {
		t.Fatalf("unexpected actor %q", body)
	}
}

func TestOptional(t *testing.T) {
	app := newProtectedApp(Optional(""))
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected pass-through without secret")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "anonymous" {
		t.Fatalf("unexpected actor %q", body)
	}

	app = newProtectedApp(Optional("secret"))
	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/private", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected enforcement with secret")
	}
}
