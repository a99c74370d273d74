package handler

import (
	"encoding/json"

	"ai-qa-sync/internal/dto"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/internal/pkg/serverutils"
	"ai-qa-sync/internal/sandbox"
	internalWS "ai-qa-sync/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// JobPushHandler serves the job status push channel.
type JobPushHandler struct {
	verifier serverutils.TokenVerifier
	jobs     *sandbox.JobSimulator
	hub      *internalWS.Hub
	logger   logger.ILogger
}

func NewJobPushHandler(verifier serverutils.TokenVerifier, jobs *sandbox.JobSimulator, hub *internalWS.Hub, log logger.ILogger) *JobPushHandler {
	return &JobPushHandler{verifier: verifier, jobs: jobs, hub: hub, logger: log}
}

func (h *JobPushHandler) RegisterRoutes(app fiber.Router) {
	app.Get("/ws/jobs/:id", h.ServeWs)
}

// ServeWs authenticates the handshake, then hands the connection to the hub
// with the job's current status as the first frame.
func (h *JobPushHandler) ServeWs(c *fiber.Ctx) error {
	tokenStr := serverutils.BearerToken(c)
	if tokenStr == "" {
		return serverutils.Fail(c, fiber.StatusUnauthorized, "Missing token (Query 'token' or Header 'Authorization')")
	}
	if _, err := h.verifier.Verify(tokenStr); err != nil {
		h.logger.Warn("JobPushHandler", "Invalid token in WS handshake", map[string]interface{}{"error": err.Error()})
		return serverutils.Fail(c, fiber.StatusUnauthorized, err.Error())
	}

	jobId := c.Params("id")
	status, ok := h.jobs.Status(jobId)
	if !ok {
		return serverutils.Fail(c, fiber.StatusNotFound, "job not found")
	}
	initial, _ := json.Marshal(dto.PushMessage{
		Type:     dto.PushTypeStatus,
		Status:   status.Status,
		Progress: status.Progress,
		Message:  status.Message,
	})

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.logger.Info("JobPushHandler", "Push session started", map[string]interface{}{"job_id": jobId})
			internalWS.ServeWs(h.hub, conn, jobId, initial)
			h.logger.Info("JobPushHandler", "Push session ended", map[string]interface{}{"job_id": jobId})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}
