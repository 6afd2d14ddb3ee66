package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/app/repository"
)

// FallbackResponse is returned when the model answers with empty text.
const FallbackResponse = "No response generated"

const responseCacheTTL = 10 * time.Minute

// TextGenerator produces model text for a prompt. The real implementation
// talks to Gemini; tests substitute a fake.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ResponseCache is an optional read-through cache for identical prompts.
type ResponseCache interface {
	Get(key string) (string, error)
	Set(key, value string, ttl time.Duration) error
}

// GeminiGenerator implements TextGenerator against the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator dials the Gemini API with the given key.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Request describes one workflow execution.
type Request struct {
	WorkflowID string
	Type       string
	Input      string
	Context    string
	AuthUserID string
}

// Result is the outcome of one workflow execution.
type Result struct {
	Response    string
	WorkflowID  string
	ExecutionID string
	Cached      bool
}

// Service runs generative workflows: prompt assembly, model call, response
// caching and best-effort execution logging.
type Service struct {
	generator  TextGenerator
	executions repository.WorkflowExecutionRepository
	cache      ResponseCache
}

// NewService wires the workflow runner. cache may be nil to disable the
// response cache.
func NewService(generator TextGenerator, executions repository.WorkflowExecutionRepository, cache ResponseCache) *Service {
	return &Service{generator: generator, executions: executions, cache: cache}
}

// Execute runs one workflow. The model call is mandatory; the audit log and
// cache writes are best-effort and never fail the request.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	prompt := BuildPrompt(req.Type, req.Input, req.Context)
	key := cacheKey(prompt)

	result := &Result{
		WorkflowID:  req.WorkflowID,
		ExecutionID: uuid.New().String(),
	}

	if s.cache != nil {
		if cached, err := s.cache.Get(key); err == nil && cached != "" {
			result.Response = cached
			result.Cached = true
			s.logExecution(ctx, req, cached)
			return result, nil
		}
	}

	text, err := s.generator.GenerateText(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if text == "" {
		text = FallbackResponse
	}
	result.Response = text

	if s.cache != nil && text != FallbackResponse {
		if err := s.cache.Set(key, text, responseCacheTTL); err != nil {
			log.Debugf("workflow response cache write failed: %v", err)
		}
	}

	s.logExecution(ctx, req, text)
	return result, nil
}

// logExecution appends the audit record. Failures are logged and swallowed
// so a store outage never blocks the generated response.
func (s *Service) logExecution(ctx context.Context, req Request, response string) {
	userID := req.AuthUserID
	if userID == "" {
		userID = models.AnonymousUserID
	}

	exec := &models.WorkflowExecution{
		UserID:     userID,
		WorkflowID: req.WorkflowID,
		Type:       req.Type,
		Input:      req.Input,
		Response:   response,
		Timestamp:  time.Now(),
	}
	if err := s.executions.Create(ctx, exec); err != nil {
		log.Errorf("failed to log workflow execution: %v", err)
	}
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "workflow:response:" + hex.EncodeToString(sum[:])
}
