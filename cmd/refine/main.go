package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ai-refinery/internal/config"
	"ai-refinery/internal/pkg/logger"
	"ai-refinery/internal/pkg/serverutils"
	"ai-refinery/internal/service"
	"ai-refinery/internal/tracer"
	internalWS "ai-refinery/internal/websocket"
	pktNats "ai-refinery/pkg/nats"
	"ai-refinery/pkg/refine"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/fatih/color"
)

const snapshotTopic = "refine.snapshots"

func main() {
	os.Exit(run())
}

func run() int {
	prompt := strings.TrimSpace(strings.Join(os.Args[1:], " "))
	if prompt == "" {
		color.Red("usage: refine <prompt>")
		return 2
	}

	shutdownTracer := tracer.InitTracer("ai-refinery-cli")
	defer shutdownTracer(context.Background())

	cfg := config.Load()

	// The terminal belongs to the renderer, so logs only go to the file.
	sysLogger := logger.NewIsolatedLogger(cfg.App.LogFilePath)
	defer sysLogger.Sync()

	// 1. Snapshot bus: controller -> renderer, acked one by one so output
	// stays in order.
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermill.NopLogger{},
	)
	defer pubSub.Close()

	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	defer stopConsuming()

	rend := newRenderer(color.Output)
	consumer := service.NewConsumerService(pubSub, snapshotTopic, rend.Render, sysLogger)
	if err := consumer.Consume(consumeCtx); err != nil {
		color.Red("Failed to start renderer: %v", err)
		return 1
	}

	notifiers := []refine.Notifier{service.NewPublisherService(snapshotTopic, pubSub, sysLogger)}

	// 2. Lifecycle events, when a NATS server is configured
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			sysLogger.Warn("RefineCLI", "NATS unavailable, lifecycle events disabled", map[string]interface{}{"error": err.Error()})
		} else {
			defer natsPub.Close()
			notifiers = append(notifiers, service.NewLifecycleNotifier(natsPub, sysLogger))
		}
	}

	// 3. Transport
	dialer := &internalWS.Dialer{
		URL:              cfg.Client.Endpoint,
		HandshakeTimeout: cfg.Client.HandshakeTimeout,
		Logger:           sysLogger,
	}
	if cfg.App.JwtSecret != "" {
		token, err := serverutils.SignToken(cfg.App.JwtSecret, cfg.Client.TokenSubject, time.Hour)
		if err != nil {
			color.Red("Failed to sign token: %v", err)
			return 1
		}
		dialer.Token = token
	}

	ctrl := refine.NewController(dialer, refine.Config{
		Prompts: refine.Prompts{
			Technical: cfg.Prompts.Technical,
			Creative:  cfg.Prompts.Creative,
			Final:     cfg.Prompts.Final,
		},
		StageTimeout: cfg.Client.StageTimeout,
		Logger:       sysLogger,
		Notifiers:    notifiers,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.New(color.Faint).Printf("Connecting to %s\n", cfg.Client.Endpoint)
	if err := ctrl.Start(ctx, prompt); err != nil {
		color.Red("%v", err)
		return 2
	}

	snap, err := ctrl.Wait(ctx)
	if err != nil {
		// interrupted
		ctrl.Abort()
		snap = ctrl.Snapshot()
	}
	return rend.Summary(snap)
}
