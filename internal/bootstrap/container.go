package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-qa-sync/internal/config"
	"ai-qa-sync/internal/feed"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/internal/repository/contract"
	"ai-qa-sync/internal/repository/implementation"
	"ai-qa-sync/internal/repository/memory"
	"ai-qa-sync/internal/service"
	"ai-qa-sync/internal/tracer"
	"ai-qa-sync/internal/websocket"
	"ai-qa-sync/pkg/events"
	pktNats "ai-qa-sync/pkg/nats"
	"ai-qa-sync/pkg/store"

	"github.com/redis/go-redis/v9"
)

const (
	credentialKeyPrefix = "ai-qa-sync:"
	jobRetention        = time.Hour
)

// Container holds the client-side components, wired once per process.
type Container struct {
	Config *config.Config
	Logger logger.ILogger

	Credentials contract.ICredentialRepository
	AuthAPI     *service.AuthAPI
	AuthGate    *service.AuthGate
	APIClient   *service.APIClient

	Chat     *service.ChatService
	Tracker  *service.JobTracker
	JobBoard *store.JobBoard

	Feed *feed.Feed

	closers []func() error
}

func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	c := &Container{Config: cfg, Logger: sysLogger}
	c.onClose(syncQuietly(sysLogger))

	shutdownTracer := tracer.InitTracer("ai-qa-sync", sysLogger)
	c.onClose(func() error { return shutdownTracer(context.Background()) })

	// 1. Event feed, optionally exported to NATS
	c.Feed = feed.New(sysLogger)
	c.onClose(c.Feed.Close)
	if cfg.Events.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.Events.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "NATS export disabled", map[string]interface{}{"error": err.Error()})
		} else {
			c.onClose(func() error { natsPub.Close(); return nil })
			if err := c.Feed.Subscribe(ctx, func(ev events.Event) {
				if err := natsPub.Publish(ctx, ev); err != nil {
					sysLogger.Warn("Bootstrap", "Event export failed", map[string]interface{}{
						"type":  ev.EventType(),
						"error": err.Error(),
					})
				}
			}); err != nil {
				return nil, fmt.Errorf("failed to subscribe NATS exporter: %w", err)
			}
		}
	}

	// 2. Credential store
	creds, err := c.credentialRepository(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Credentials = creds

	// 3. Auth
	c.AuthAPI = service.NewAuthAPI(cfg.App.APIBaseURL, cfg.App.RequestTimeout)
	c.AuthGate = service.NewAuthGate(creds, c.AuthAPI, sysLogger, service.GateConfig{
		RefreshTimeout: cfg.Auth.RefreshTimeout,
		ExpirySkew:     cfg.Auth.ExpirySkew,
	}, c.Feed)
	if _, err := c.AuthGate.Restore(ctx); err != nil {
		sysLogger.Warn("Bootstrap", "Could not restore credentials", map[string]interface{}{"error": err.Error()})
	}
	c.APIClient = service.NewAPIClient(cfg.App.APIBaseURL, cfg.App.RequestTimeout, c.AuthGate, sysLogger)

	// 4. Answers
	consumer := service.NewStreamConsumer(c.APIClient, sysLogger)
	c.Chat = service.NewChatService(consumer, cfg.Stream.CoalesceWindow, sysLogger, c.Feed)

	// 5. Jobs
	pushLogger := logger.NewIsolatedLogger(cfg.App.PushLogFilePath)
	c.onClose(syncQuietly(pushLogger))
	dialer := websocket.NewDialer(cfg.App.WSBaseURL, c.AuthGate, pushLogger)
	connector := service.PushConnectorFunc(func(ctx context.Context, jobId string) (service.PushChannel, error) {
		return dialer.Dial(ctx, jobId)
	})
	c.Tracker = service.NewJobTracker(connector, c.APIClient, service.TrackerConfig{
		HeartbeatInterval: cfg.Jobs.HeartbeatInterval,
		PollInterval:      cfg.Jobs.PollInterval,
		MaxPollAttempts:   cfg.Jobs.MaxPollAttempts,
	}, sysLogger, c.Feed)
	c.JobBoard = store.NewJobBoard(jobRetention)

	return c, nil
}

func (c *Container) credentialRepository(ctx context.Context) (contract.ICredentialRepository, error) {
	switch c.Config.Auth.CredentialStore {
	case "memory":
		return memory.NewCredentialRepository(), nil

	case "redis":
		opt, err := redis.ParseURL(c.Config.Auth.RedisURL)
		if err != nil {
			c.Logger.Warn("Bootstrap", "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err.Error()})
			opt = &redis.Options{Addr: c.Config.Auth.RedisURL}
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.onClose(rdb.Close)
		return implementation.NewRedisCredentialRepository(rdb, credentialKeyPrefix), nil

	default:
		repo, err := implementation.NewSQLiteCredentialRepository(c.Config.Auth.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.onClose(repo.Close)
		return repo, nil
	}
}

// Sync on a console sink fails on most terminals; nothing to act on.
func syncQuietly(l logger.ILogger) func() error {
	return func() error {
		_ = l.Sync()
		return nil
	}
}

func (c *Container) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases everything in reverse order of acquisition.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
