package controller

import (
	"io"
	"strconv"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/serverutils"
	"ai-qa-sync/internal/sandbox"

	"github.com/gofiber/fiber/v2"
)

const maxDocumentSize = 10 * 1024 * 1024

type IDocumentController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	Upload(ctx *fiber.Ctx) error
	Status(ctx *fiber.Ctx) error
}

type documentController struct {
	jobs *sandbox.JobSimulator
}

func NewDocumentController(jobs *sandbox.JobSimulator) IDocumentController {
	return &documentController{jobs: jobs}
}

func (c *documentController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	r.Post("/documents", auth, c.Upload)
	r.Get("/jobs/:id/status", auth, c.Status)
}

func (c *documentController) Upload(ctx *fiber.Ctx) error {
	targetId := ctx.FormValue("target_id")
	if targetId == "" {
		return serverutils.Fail(ctx, fiber.StatusBadRequest, "target_id is required")
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		return serverutils.Fail(ctx, fiber.StatusBadRequest, "file is required")
	}
	if header.Size > maxDocumentSize {
		return serverutils.Fail(ctx, fiber.StatusRequestEntityTooLarge, "file too large")
	}
	file, err := header.Open()
	if err != nil {
		return err
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	dropAt := 0
	if v := ctx.FormValue("drop_push_at"); v != "" {
		if dropAt, err = strconv.Atoi(v); err != nil {
			return serverutils.Fail(ctx, fiber.StatusBadRequest, "drop_push_at must be a number")
		}
	}

	jobId := c.jobs.Submit(sandbox.UploadRequest{
		TargetId:   targetId,
		Filename:   header.Filename,
		Content:    content,
		DropPushAt: dropAt,
	})
	return ctx.Status(fiber.StatusAccepted).JSON(dto.UploadDocumentResponse{
		JobId:    jobId,
		TargetId: targetId,
		Filename: header.Filename,
	})
}

func (c *documentController) Status(ctx *fiber.Ctx) error {
	status, ok := c.jobs.Status(ctx.Params("id"))
	if !ok {
		return serverutils.Fail(ctx, fiber.StatusNotFound, "job not found")
	}
	return ctx.JSON(status)
}
