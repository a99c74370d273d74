package controller

import (
	"bufio"
	"encoding/json"
	"strconv"
	"time"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/internal/pkg/serverutils"
	"ai-qa-sync/internal/sandbox"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

const wordsPerFragment = 3

type IChatController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	Stream(ctx *fiber.Ctx) error
}

type chatController struct {
	knowledge  *sandbox.Knowledge
	chunkDelay time.Duration
	validate   *validator.Validate
	logger     logger.ILogger
}

func NewChatController(knowledge *sandbox.Knowledge, chunkDelay time.Duration, log logger.ILogger) IChatController {
	return &chatController{
		knowledge:  knowledge,
		chunkDelay: chunkDelay,
		validate:   validator.New(),
		logger:     log,
	}
}

func (c *chatController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/chat", auth)
	h.Post("/stream", c.Stream)
}

// Stream answers as chunked plain text. Answer metadata travels in headers
// because the body is nothing but the answer.
func (c *chatController) Stream(ctx *fiber.Ctx) error {
	var req dto.AskRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.Fail(ctx, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := c.validate.Struct(req); err != nil {
		return serverutils.Fail(ctx, fiber.StatusBadRequest, err.Error())
	}

	answer := c.knowledge.Answer(req.TargetId, req.Question)
	sources, _ := json.Marshal(answer.Sources)

	ctx.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(dto.HeaderAnswerCached, strconv.FormatBool(answer.Cached))
	ctx.Set(dto.HeaderAnswerSources, string(sources))

	chunks := sandbox.Chunks(answer.Text, wordsPerFragment)
	delay := c.chunkDelay
	c.logger.Debug("ChatController", "Streaming answer", map[string]interface{}{
		"target_id": req.TargetId,
		"chunks":    len(chunks),
		"cached":    answer.Cached,
	})

	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		for i, chunk := range chunks {
			if i > 0 && delay > 0 {
				time.Sleep(delay)
			}
			if _, err := w.WriteString(chunk); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				// Client went away.
				return
			}
		}
	})
	return nil
}
