package bootstrap

import (
	"context"
	"fmt"

	"ai-qa-sync/internal/config"
	"ai-qa-sync/internal/controller"
	"ai-qa-sync/internal/handler"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/internal/sandbox"
	"ai-qa-sync/internal/websocket"

	"github.com/redis/go-redis/v9"
)

// DemoTarget is seeded with a short document so ask works before any upload.
const DemoTarget = "demo"

const demoDocument = `Stoichiometry is the calculation of reactants and products in chemical reactions. ` +
	`It rests on the law of conservation of mass. ` +
	`A mole is the amount of substance containing Avogadro's number of particles. ` +
	`Balanced equations give the mole ratios between reactants and products. ` +
	`The limiting reagent is the reactant that is used up first.`

// SandboxContainer holds the local query service.
type SandboxContainer struct {
	Logger logger.ILogger

	AuthService *sandbox.AuthService
	Knowledge   *sandbox.Knowledge
	Jobs        *sandbox.JobSimulator
	Hub         *websocket.Hub

	AuthController     controller.IAuthController
	ChatController     controller.IChatController
	DocumentController controller.IDocumentController
	JobPushHandler     *handler.JobPushHandler

	rdb *redis.Client
}

// NewSandboxContainer wires the sandbox. The hub and job simulator run until
// ctx ends.
func NewSandboxContainer(ctx context.Context, cfg *config.Config, log logger.ILogger) (*SandboxContainer, error) {
	c := &SandboxContainer{Logger: log}

	// Redis fan-out lets several sandbox instances share push connections.
	if cfg.Sandbox.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Sandbox.RedisURL)
		if err != nil {
			log.Warn("Bootstrap", "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err.Error()})
			opt = &redis.Options{Addr: cfg.Sandbox.RedisURL}
		}
		c.rdb = redis.NewClient(opt)
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			log.Warn("Bootstrap", "Redis unavailable, hub stays local", map[string]interface{}{"error": err.Error()})
			c.rdb.Close()
			c.rdb = nil
		}
	}

	c.Hub = websocket.NewHub(c.rdb, log)
	go c.Hub.Run(ctx)

	c.AuthService = sandbox.NewAuthService(cfg.Sandbox.JWTSecret, cfg.Sandbox.AccessTTL, log)
	if err := c.AuthService.AddAccount(cfg.Sandbox.DemoEmail, cfg.Sandbox.DemoPassword); err != nil {
		return nil, fmt.Errorf("failed to seed demo account: %w", err)
	}

	c.Knowledge = sandbox.NewKnowledge()
	c.Knowledge.Add(DemoTarget, "stoichiometry.txt", demoDocument)
	c.Jobs = sandbox.NewJobSimulator(ctx, cfg.Sandbox.StepDelay, cfg.Sandbox.JobRetention, c.Hub, c.Knowledge, log)

	c.AuthController = controller.NewAuthController(c.AuthService)
	c.ChatController = controller.NewChatController(c.Knowledge, cfg.Sandbox.ChunkDelay, log)
	c.DocumentController = controller.NewDocumentController(c.Jobs)
	c.JobPushHandler = handler.NewJobPushHandler(c.AuthService, c.Jobs, c.Hub, log)

	return c, nil
}

// Close waits for running jobs, which stop once the container's context ends.
func (c *SandboxContainer) Close() error {
	c.Jobs.Wait()
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
