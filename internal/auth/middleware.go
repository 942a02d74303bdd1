package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTMiddleware guards REST routes: it validates the bearer token and puts
// the caller's user_id in locals for the handlers downstream.
func JWTMiddleware(secret string) fiber.Handler {
	keyfunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		parsed, err := parseWithClaimsFn(token, &Claims{}, keyfunc)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		claims, ok := parsed.Claims.(*Claims)
		if !ok || !parsed.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "token invalid")
		}

		c.Locals("user_id", claims.UserID)
		return c.Next()
	}
}

func bearerFromHeader(header string) string {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return token
}
