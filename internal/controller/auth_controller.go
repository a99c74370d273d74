package controller

import (
	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/serverutils"
	"ai-qa-sync/internal/sandbox"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

type IAuthController interface {
	RegisterRoutes(r fiber.Router)
	Login(ctx *fiber.Ctx) error
	Refresh(ctx *fiber.Ctx) error
	Logout(ctx *fiber.Ctx) error
}

type authController struct {
	service  *sandbox.AuthService
	validate *validator.Validate
}

func NewAuthController(service *sandbox.AuthService) IAuthController {
	return &authController{service: service, validate: validator.New()}
}

func (c *authController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/auth")
	h.Post("/login", c.Login)
	h.Post("/refresh", c.Refresh)
	h.Post("/logout", c.Logout)
}

func (c *authController) Login(ctx *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.Fail(ctx, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := c.validate.Struct(req); err != nil {
		return serverutils.Fail(ctx, fiber.StatusBadRequest, err.Error())
	}

	res, err := c.service.Login(req)
	if err != nil {
		return serverutils.Fail(ctx, fiber.StatusUnauthorized, err.Error())
	}
	return ctx.JSON(res)
}

func (c *authController) Refresh(ctx *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.Fail(ctx, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := c.validate.Struct(req); err != nil {
		return serverutils.Fail(ctx, fiber.StatusBadRequest, err.Error())
	}

	res, err := c.service.Refresh(req)
	if err != nil {
		return serverutils.Fail(ctx, fiber.StatusUnauthorized, err.Error())
	}
	return ctx.JSON(res)
}

func (c *authController) Logout(ctx *fiber.Ctx) error {
	var req dto.LogoutRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.Fail(ctx, fiber.StatusBadRequest, "Invalid request body")
	}
	c.service.Logout(req)
	return ctx.SendStatus(fiber.StatusNoContent)
}
