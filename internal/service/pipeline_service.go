package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-refinery/internal/constant"
	"ai-refinery/internal/dto"
	"ai-refinery/internal/pkg/logger"
	"ai-refinery/internal/repository/memory"
	"ai-refinery/pkg/llm"
	"ai-refinery/pkg/refine"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const pipelineModule = "PipelineService"

var (
	errWrite        = errors.New("write to client failed")
	errFeedbackJSON = errors.New("feedback is not valid json")
)

// PipelineConn is the server end of one /ws/generate connection.
type PipelineConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// EnvelopeMirror receives a copy of every envelope a pipeline emits.
type EnvelopeMirror interface {
	Publish(ctx context.Context, pipelineID uuid.UUID, envelope []byte)
}

type IPipelineService interface {
	// Serve answers requests on conn until it fails or closes.
	Serve(ctx context.Context, id uuid.UUID, conn PipelineConn) error
	Status(id uuid.UUID) (dto.PipelineStatusResponse, bool)
}

type pipelineService struct {
	llmProvider llm.LLMProvider
	repo        *memory.PipelineRepository
	mirror      EnvelopeMirror
	validate    *validator.Validate
	tracer      trace.Tracer
	logger      logger.ILogger
	options     []llm.Option
}

func NewPipelineService(
	llmProvider llm.LLMProvider,
	repo *memory.PipelineRepository,
	mirror EnvelopeMirror,
	log logger.ILogger,
	options ...llm.Option,
) IPipelineService {
	return &pipelineService{
		llmProvider: llmProvider,
		repo:        repo,
		mirror:      mirror,
		validate:    validator.New(),
		tracer:      otel.Tracer("ai-refinery/pipeline"),
		logger:      log,
		options:     options,
	}
}

// pipelineRun is the server-side step machine of one connection.
type pipelineRun struct {
	id      uuid.UUID
	step    refine.Stage
	started bool
	status  dto.PipelineStatusResponse
}

func newPipelineRun(id uuid.UUID) *pipelineRun {
	now := time.Now()
	return &pipelineRun{
		id: id,
		status: dto.PipelineStatusResponse{
			Id:        id,
			Stage:     refine.StageInitial.String(),
			State:     dto.PipelineWaiting,
			StartedAt: now,
			UpdatedAt: now,
		},
	}
}

func (r *pipelineRun) record(env refine.Envelope) {
	r.status.Stage = r.step.String()
	r.status.Envelopes++
	r.status.UpdatedAt = time.Now()
	switch env.Kind {
	case refine.KindStatus:
		r.status.Status = env.Status
		r.status.State = dto.PipelineRunning
		r.status.Error = ""
	case refine.KindError:
		r.status.State = dto.PipelineFailed
		r.status.Error = env.Reason
	case refine.KindDone:
		if r.step == refine.StageFinal {
			r.status.State = dto.PipelineCompleted
		} else {
			r.status.State = dto.PipelineWaiting
		}
	}
}

func (s *pipelineService) Status(id uuid.UUID) (dto.PipelineStatusResponse, bool) {
	return s.repo.Get(id)
}

func (s *pipelineService) Serve(ctx context.Context, id uuid.UUID, conn PipelineConn) error {
	run := newPipelineRun(id)
	s.repo.Save(run.status)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.handle(ctx, run, conn, raw); err != nil {
			return err
		}
	}
}

// handle runs one request to completion. Only write failures are returned;
// everything else is reported to the client as an error envelope.
func (s *pipelineService) handle(ctx context.Context, run *pipelineRun, conn PipelineConn, raw []byte) error {
	var req dto.GenerateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return s.emit(ctx, run, conn, refine.ErrorEnvelope(fmt.Sprintf("invalid request: %v", err)))
	}

	if len(req.Messages) > 0 {
		stageReq := dto.StageRequestDTO{Messages: req.Messages}
		if err := s.validate.Struct(stageReq); err != nil {
			return s.emit(ctx, run, conn, refine.ErrorEnvelope(fmt.Sprintf("invalid request: %v", err)))
		}
		return s.advance(ctx, run, conn, stageReq)
	}

	start := dto.StartRequest{Prompt: req.Prompt}
	if err := s.validate.Struct(start); err != nil {
		return s.emit(ctx, run, conn, refine.ErrorEnvelope(fmt.Sprintf("invalid request: %v", err)))
	}
	return s.start(ctx, run, conn, start.Prompt)
}

func (s *pipelineService) start(ctx context.Context, run *pipelineRun, conn PipelineConn, prompt string) error {
	run.step = refine.StageInitial
	run.started = true
	s.logger.Info(pipelineModule, "Pipeline started", map[string]interface{}{"pipeline_id": run.id.String()})

	if err := s.emit(ctx, run, conn, refine.StatusEnvelope(constant.StatusInitial)); err != nil {
		return err
	}
	return s.generate(ctx, run, conn, []llm.Message{
		{Role: llm.RoleSystem, Content: constant.GeneratorSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
}

func (s *pipelineService) advance(ctx context.Context, run *pipelineRun, conn PipelineConn, req dto.StageRequestDTO) error {
	next, ok := run.step.Next()
	if !run.started || !ok {
		return s.emit(ctx, run, conn, refine.ErrorEnvelope("no pipeline step left to run"))
	}
	run.step = next

	switch next {
	case refine.StageTechnical:
		return s.critique(ctx, run, conn, constant.StatusTechnical, constant.TechnicalSystemPrompt, req.UserContent())
	case refine.StageCreative:
		return s.critique(ctx, run, conn, constant.StatusCreative, constant.CreativeSystemPrompt, req.UserContent())
	default:
		if err := s.emit(ctx, run, conn, refine.StatusEnvelope(constant.StatusFinal)); err != nil {
			return err
		}
		history := []llm.Message{{Role: llm.RoleSystem, Content: constant.RefinerSystemPrompt}}
		for _, m := range req.Messages {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}
		return s.generate(ctx, run, conn, history)
	}
}

// generate streams a completion to the client as content fragments.
func (s *pipelineService) generate(ctx context.Context, run *pipelineRun, conn PipelineConn, history []llm.Message) error {
	ctx, span := s.startSpan(ctx, run)
	defer span.End()

	_, err := llm.Stream(ctx, s.llmProvider, history, func(chunk string) error {
		return s.emit(ctx, run, conn, refine.ContentEnvelope(chunk))
	}, s.options...)
	if err != nil {
		return s.fail(ctx, run, conn, span, err)
	}
	span.SetStatus(codes.Ok, "")
	return s.emit(ctx, run, conn, refine.DoneEnvelope())
}

// critique collects the whole rating response, then sends the ratings and
// the feedback text as separate envelopes.
func (s *pipelineService) critique(ctx context.Context, run *pipelineRun, conn PipelineConn, status, systemPrompt, content string) error {
	if err := s.emit(ctx, run, conn, refine.StatusEnvelope(status)); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, run)
	defer span.End()

	completion, err := s.llmProvider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: content},
	}, s.options...)
	if err != nil {
		return s.fail(ctx, run, conn, span, err)
	}

	ratings, feedback, err := parseCritique(completion)
	if err != nil {
		s.logger.Warn(pipelineModule, "Unparseable critique", map[string]interface{}{
			"pipeline_id": run.id.String(),
			"stage":       run.step.String(),
			"error":       err.Error(),
			"raw":         completion,
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, constant.FeedbackParseError)
		return s.emit(ctx, run, conn, refine.ErrorEnvelope(constant.FeedbackParseError))
	}

	if err := s.emit(ctx, run, conn, refine.RatingsEnvelope(ratings)); err != nil {
		return err
	}
	env, err := refine.FeedbackEnvelope(feedback)
	if err != nil {
		return s.fail(ctx, run, conn, span, err)
	}
	if err := s.emit(ctx, run, conn, env); err != nil {
		return err
	}
	span.SetStatus(codes.Ok, "")
	return s.emit(ctx, run, conn, refine.DoneEnvelope())
}

func (s *pipelineService) startSpan(ctx context.Context, run *pipelineRun) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "pipeline."+run.step.String(), trace.WithAttributes(
		attribute.String("pipeline.id", run.id.String()),
		attribute.String("pipeline.stage", run.step.String()),
	))
}

// fail reports an LLM failure to the client. A failed write is passed up
// unchanged so the connection is dropped.
func (s *pipelineService) fail(ctx context.Context, run *pipelineRun, conn PipelineConn, span trace.Span, err error) error {
	if errors.Is(err, errWrite) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error(pipelineModule, "Stage failed", map[string]interface{}{
		"pipeline_id": run.id.String(),
		"stage":       run.step.String(),
		"error":       err.Error(),
	})
	return s.emit(ctx, run, conn, refine.ErrorEnvelope(err.Error()))
}

func (s *pipelineService) emit(ctx context.Context, run *pipelineRun, conn PipelineConn, env refine.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	run.record(env)
	s.repo.Save(run.status)
	if s.mirror != nil {
		s.mirror.Publish(ctx, run.id, data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %w", errWrite, err)
	}
	return nil
}

type critiqueResponse struct {
	Ratings  json.RawMessage `json:"ratings"`
	Feedback *string         `json:"feedback"`
}

// parseCritique reads the {ratings, feedback} object a critique prompt asks
// for. Models often wrap it in a markdown fence or add a preamble, so only
// the outermost braces are decoded.
func parseCritique(completion string) (refine.RatingRecord, string, error) {
	start := strings.Index(completion, "{")
	end := strings.LastIndex(completion, "}")
	if start < 0 || end < start {
		return refine.RatingRecord{}, "", errFeedbackJSON
	}

	var resp critiqueResponse
	if err := json.Unmarshal([]byte(completion[start:end+1]), &resp); err != nil {
		return refine.RatingRecord{}, "", fmt.Errorf("%w: %v", errFeedbackJSON, err)
	}
	if resp.Feedback == nil || len(resp.Ratings) == 0 {
		return refine.RatingRecord{}, "", fmt.Errorf("%w: missing ratings or feedback", errFeedbackJSON)
	}

	ratings, err := refine.ParseRatings(resp.Ratings)
	if err != nil {
		return refine.RatingRecord{}, "", fmt.Errorf("%w: %v", errFeedbackJSON, err)
	}
	return ratings, *resp.Feedback, nil
}
