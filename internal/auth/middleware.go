package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are issued by the organiser's identity service. Subject carries the
// runner id.
type Claims struct {
	RunnerID string `json:"runner_id"`
	jwt.RegisteredClaims
}

const localsKey = "runner_id"

// Anonymous is the actor of requests that carried no token.
const Anonymous = "anonymous"

// JWTMiddleware validates bearer tokens and stores runner_id in locals.
func JWTMiddleware(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		parsed, err := parseMiddlewareClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
			return secretBytes, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		claims, ok := parsed.Claims.(*Claims)
		if !ok || !parsed.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "token invalid")
		}

		runnerID := claims.RunnerID
		if runnerID == "" {
			runnerID = claims.Subject
		}
		c.Locals(localsKey, runnerID)
		return c.Next()
	}
}

// Optional returns JWTMiddleware when a secret is configured and a
// pass-through handler otherwise, so local setups run without tokens.
func Optional(secret string) fiber.Handler {
	if secret == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return JWTMiddleware(secret)
}

// Actor names the caller for audit logs.
func Actor(c *fiber.Ctx) string {
	if id, ok := c.Locals(localsKey).(string); ok && id != "" {
		return id
	}
	return Anonymous
}

var parseMiddlewareClaimsFn = jwt.ParseWithClaims

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
