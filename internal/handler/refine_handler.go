package handler

import (
	"context"

	"ai-refinery/internal/pkg/logger"
	"ai-refinery/internal/pkg/serverutils"
	"ai-refinery/internal/service"
	internalWS "ai-refinery/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	handlerModule  = "RefineHandler"
	maxRequestSize = 1 << 20
)

type RefineHandler struct {
	service service.IPipelineService
	hub     *internalWS.Hub
	logger  logger.ILogger
}

func NewRefineHandler(service service.IPipelineService, hub *internalWS.Hub, log logger.ILogger) *RefineHandler {
	return &RefineHandler{
		service: service,
		hub:     hub,
		logger:  log,
	}
}

func (h *RefineHandler) RegisterRoutes(r fiber.Router, jwtSecret string) {
	r.Get("/health", h.Health)

	auth := serverutils.JwtMiddleware(jwtSecret)

	ws := r.Group("/ws", auth)
	ws.Get("/generate", h.generateTarget, websocket.New(h.serveGenerate))
	ws.Get("/watch/:id", h.watchTarget, websocket.New(h.serveWatch))

	api := r.Group("/api", auth)
	api.Get("/pipelines/:id", h.GetPipeline)
}

// Health reports liveness.
func (h *RefineHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

// GetPipeline returns the last known status of a pipeline run.
func (h *RefineHandler) GetPipeline(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid pipeline ID"})
	}

	status, ok := h.service.Status(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Pipeline not found"})
	}
	return c.JSON(status)
}

// generateTarget names the pipeline run before the upgrade so the client
// learns its id from the handshake response.
func (h *RefineHandler) generateTarget(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	id := uuid.New()
	c.Locals("pipeline_id", id)
	c.Set(internalWS.PipelineIDHeader, id.String())
	return c.Next()
}

func (h *RefineHandler) watchTarget(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid pipeline ID"})
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals("pipeline_id", id)
	return c.Next()
}

func (h *RefineHandler) serveGenerate(c *websocket.Conn) {
	id, _ := c.Locals("pipeline_id").(uuid.UUID)
	subject, _ := c.Locals("subject").(string)
	details := map[string]interface{}{"pipeline_id": id.String(), "remote": c.RemoteAddr().String()}
	if subject != "" {
		details["subject"] = subject
	}
	h.logger.Info(handlerModule, "Pipeline connection opened", details)

	c.SetReadLimit(maxRequestSize)
	err := h.service.Serve(context.Background(), id, c)
	if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.logger.Warn(handlerModule, "Pipeline connection closed unexpectedly", map[string]interface{}{"pipeline_id": id.String(), "error": err.Error()})
	}
	h.logger.Info(handlerModule, "Pipeline connection closed", map[string]interface{}{"pipeline_id": id.String()})
}

func (h *RefineHandler) serveWatch(c *websocket.Conn) {
	id, _ := c.Locals("pipeline_id").(uuid.UUID)
	h.logger.Info(handlerModule, "Watcher connected", map[string]interface{}{"pipeline_id": id.String()})
	internalWS.ServeWatcher(h.hub, c, id)
	h.logger.Info(handlerModule, "Watcher disconnected", map[string]interface{}{"pipeline_id": id.String()})
}
