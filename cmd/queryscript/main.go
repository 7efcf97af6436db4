package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/content"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/script"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/sequence"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/transport"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

const pollInterval = 20 * time.Millisecond

func main() {
	url := flag.String("url", "ws://127.0.0.1:8000/ws", "Daemon WebSocket endpoint")
	browserID := flag.Int("browser", 1, "Browser identifier of the page")
	timeout := flag.Duration("timeout", 30*time.Second, "Maximum run time")
	configPath := flag.String("config", "", "YAML or TOML config file")
	dev := flag.Bool("dev", false, "Development mode")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: queryscript [flags] script.js")
		os.Exit(2)
	}
	src, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to read script: %v", err)
	}

	cfg := config.LoadOrDefault()
	if *configPath != "" {
		if err := config.LoadFile(cfg, *configPath); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	logger := logging.NewDefault()
	if *dev {
		logger = logging.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger, *url, int32(*browserID), string(src)); err != nil {
		logger.Error("Script failed", zap.Error(err))
		os.Exit(1)
	}
}

// run executes src in a page and returns once it is idle or ctx is done.
func run(ctx context.Context, cfg *config.Config, logger *logging.Logger, url string, browserID int32, src string) error {
	codec, err := transport.NewCodec(cfg.Transport)
	if err != nil {
		return err
	}
	defer codec.Close()

	conn, err := transport.Dial(ctx, url, codec)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer conn.Close()

	loop := sequence.NewLoop("content")
	router := content.New(cfg.Router, loop).WithLogger(logger.Component("router"))
	browser := transport.Browser(browserID)

	rt, err := script.New(script.DefaultConfig(), browser, transport.NewFrame(conn, browserID, true))
	if err != nil {
		return err
	}
	rt.WithLogger(logger.Logger)

	// The connection outlives the loop so that teardown can still send
	// cancel messages.
	loopCtx, done := context.WithCancel(ctx)
	defer done()
	serveCtx, stopServe := context.WithCancel(context.Background())
	defer stopServe()

	go func() {
		err := transport.Serve(serveCtx, conn, loop, func(ctx context.Context, b transport.Browser, msg *wire.Message) {
			if !router.OnProcessMessageReceived(ctx, b, msg) {
				_ = msg.Release()
			}
		}, logger.Component("transport"))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Connection lost", zap.Error(err))
		}
		done()
	}()

	var runErr error
	loop.PostTask(func(ctx context.Context) {
		if runErr = router.OnContextCreated(ctx, rt); runErr != nil {
			done()
			return
		}
		result, err := rt.Execute(ctx, src)
		if err != nil {
			runErr = err
			done()
			return
		}
		if result.Value != nil {
			fmt.Println(result.Value)
		}
		waitIdle(loop, router, browser, rt, done)
	})

	if err := loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Timed out with queries pending")
		} else {
			return err
		}
	}

	// The loop no longer runs, so tear down on its context directly.
	lctx := loop.Context()
	if n := router.PendingCount(lctx, browser, rt); n > 0 {
		logger.Info("Canceling pending queries", zap.Int("pending", n))
	}
	router.OnContextReleased(lctx, rt)
	rt.Release()

	for _, entry := range rt.Console() {
		fmt.Printf("[%s] %s\n", entry.Level, entry.Message)
	}
	return runErr
}

// waitIdle calls done once the page has no pending queries.
func waitIdle(loop *sequence.Loop, router *content.Router, browser content.Browser, rt *script.Runtime, done context.CancelFunc) {
	var check func(ctx context.Context)
	check = func(ctx context.Context) {
		if router.PendingCount(ctx, browser, rt) == 0 {
			done()
			return
		}
		time.AfterFunc(pollInterval, func() { loop.PostTask(check) })
	}
	loop.PostTask(check)
}
