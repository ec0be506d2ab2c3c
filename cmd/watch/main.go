package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ai-refinery/internal/config"
	"ai-refinery/pkg/events"
	pktNats "ai-refinery/pkg/nats"

	"github.com/fatih/color"
)

const refineEventPrefix = "REFINE_"

func main() {
	cfg := config.Load()
	url := cfg.App.NatsURL
	if url == "" {
		url = "nats://localhost:4222"
	}

	sub, err := pktNats.NewSubscriber(url)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer sub.Close()

	// '>' must be a whole subject token, so filter the refine events here.
	if err := sub.Subscribe(pktNats.Subject(">"), "", printEvent); err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	color.Cyan("Watching refinement sessions on %s (Ctrl+C to stop)", url)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func printEvent(_ context.Context, ev events.Event) error {
	if !strings.HasPrefix(ev.EventType(), refineEventPrefix) {
		return nil
	}

	data := ev.Payload()
	at := ev.Timestamp().Local().Format("15:04:05")
	session, _ := data["session_id"].(string)
	if len(session) > 8 {
		session = session[:8]
	}

	switch ev.EventType() {
	case events.RefineSessionStarted:
		color.Cyan("%s [%s] started: %v", at, session, data["prompt"])
	case events.RefineStageAdvanced:
		color.Yellow("%s [%s] %v -> %v", at, session, data["from"], data["stage"])
	case events.RefineSessionCompleted:
		color.Green("%s [%s] completed (%v chars)", at, session, data["final_length"])
	case events.RefineSessionFailed:
		color.Red("%s [%s] failed in %v: %v", at, session, data["stage"], data["error"])
	case events.RefineSessionAborted:
		color.Magenta("%s [%s] aborted in %v", at, session, data["stage"])
	default:
		color.White("%s [%s] %s", at, session, ev.EventType())
	}
	return nil
}
