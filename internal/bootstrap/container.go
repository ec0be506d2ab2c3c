package bootstrap

import (
	"context"
	"log"

	"ai-refinery/internal/config"
	"ai-refinery/internal/handler"
	"ai-refinery/internal/pkg/logger"
	"ai-refinery/internal/repository/memory"
	"ai-refinery/internal/service"
	"ai-refinery/internal/websocket"
	"ai-refinery/pkg/llm"
	"ai-refinery/pkg/llm/factory"

	"github.com/redis/go-redis/v9"
)

type Container struct {
	RefineHandler *handler.RefineHandler

	// Background Services (Exposed for main.go to run)
	WebSocketHub *websocket.Hub

	Logger logger.ILogger

	redis *redis.Client
}

func NewContainer(cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)

	// 2. LLM Provider based on Config
	baseURL := cfg.Ai.OllamaBaseURL
	if cfg.Ai.LLMProvider != "ollama" {
		baseURL = cfg.Ai.HuggingFaceBaseURL
	}
	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		baseURL,
		cfg.Ai.HuggingFaceKey,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	// 3. Infrastructure
	rdb := newRedisClient(cfg.App.RedisURL)
	wsHub := websocket.NewHub(rdb, wsLogger)
	pipelineRepo := memory.NewPipelineRepository()

	// 4. Services
	pipelineService := service.NewPipelineService(
		llmProvider,
		pipelineRepo,
		wsHub, // Mirrors envelopes to watchers
		sysLogger,
		llm.WithTemperature(cfg.Ai.Temperature),
	)

	return &Container{
		RefineHandler: handler.NewRefineHandler(pipelineService, wsHub, sysLogger),
		WebSocketHub:  wsHub,
		Logger:        sysLogger,
		redis:         rdb,
	}
}

// newRedisClient returns nil when Redis is not configured or unreachable;
// the hub then only serves local watchers.
func newRedisClient(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: url,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v (watcher fanout stays local)", err)
		rdb.Close()
		return nil
	}
	return rdb
}

func (c *Container) Close() {
	if c.redis != nil {
		c.redis.Close()
	}
	c.Logger.Sync()
}
