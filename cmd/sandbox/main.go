package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ai-qa-sync/internal/bootstrap"
	"ai-qa-sync/internal/config"
	"ai-qa-sync/internal/pkg/logger"
	"ai-qa-sync/internal/server"
	"ai-qa-sync/internal/tracer"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	defer sysLogger.Sync()

	// 2. Tracing
	shutdownTracer := tracer.InitTracer("ai-qa-sync-sandbox", sysLogger)
	defer shutdownTracer(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewSandboxContainer(ctx, cfg, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to start sandbox: %v", err)
	}

	// 4. Initialize Server
	srv := server.New(cfg, container)
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(); err != nil {
			sysLogger.Error("Sandbox", "Shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// 5. Run Server
	if err := srv.Run(); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	stop()
	container.Close()
}
