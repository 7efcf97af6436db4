package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/handlers"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/host"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/server"
)

const maxSleep = time.Minute

type timeResult struct {
	Unix    int64  `json:"unix"`
	RFC3339 string `json:"rfc3339"`
}

type sleepParams struct {
	Ms int `json:"ms"`
}

type sleepResult struct {
	Slept int `json:"slept"`
}

func now(context.Context, struct{}) (timeResult, error) {
	t := time.Now()
	return timeResult{Unix: t.Unix(), RFC3339: t.Format(time.RFC3339)}, nil
}

func sleep(ctx context.Context, p sleepParams) (sleepResult, error) {
	d := time.Duration(p.Ms) * time.Millisecond
	if d < 0 || d > maxSleep {
		return sleepResult{}, handlers.Errorf(handlers.CodeBadRequest, "ms must be between 0 and %d", maxSleep.Milliseconds())
	}
	select {
	case <-time.After(d):
		return sleepResult{Slept: p.Ms}, nil
	case <-ctx.Done():
		return sleepResult{}, ctx.Err()
	}
}

func main() {
	// Parse flags
	configPath := flag.String("config", "", "YAML or TOML config file")
	port := flag.String("port", "", "Server port (overrides config)")
	dev := flag.Bool("dev", false, "Development mode")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *configPath != "" {
		if err := config.LoadFile(cfg, *configPath); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	chain := []host.Handler{
		handlers.Method("time", now),
		handlers.Method("sleep", sleep),
		handlers.Echo(),
	}
	if cfg.RateLimit.Enabled {
		// Every query reaches the first handler.
		limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
		chain[0] = handlers.RateLimited(limiter, chain[0])
	}

	srv, err := server.NewServer(cfg, logger, chain...)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, nil); err != nil {
		logger.Error("Server error", zap.Error(err))
		_ = srv.Close()
		os.Exit(1)
	}
	_ = srv.Close()
}
