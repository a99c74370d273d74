package serverutils

import (
	"errors"

	"ai-qa-sync/internal/dto"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// TokenVerifier resolves an access token to its user.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// BearerToken reads the access token from the token query parameter
// (browsers cannot set headers on a websocket handshake) or the
// Authorization header.
func BearerToken(ctx *fiber.Ctx) string {
	if token := ctx.Query("token"); token != "" {
		return token
	}
	authHeader := ctx.Get("Authorization")
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		return authHeader[7:]
	}
	return ""
}

func JwtMiddleware(verifier TokenVerifier) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		tokenStr := BearerToken(ctx)
		if tokenStr == "" {
			return Fail(ctx, fiber.StatusUnauthorized, "Missing token")
		}
		userId, err := verifier.Verify(tokenStr)
		if err != nil {
			return Fail(ctx, fiber.StatusUnauthorized, err.Error())
		}
		ctx.Locals("user_id", userId)
		return ctx.Next()
	}
}

// Fail writes the standard error body.
func Fail(ctx *fiber.Ctx, status int, message string) error {
	return ctx.Status(status).JSON(dto.ErrorResponse{
		Success: false,
		Code:    status,
		Message: message,
	})
}

// ErrorHandler renders errors that escape a handler in the same shape.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	return Fail(ctx, status, err.Error())
}
