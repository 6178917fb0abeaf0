package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"promptlab/internal/genai"
	"promptlab/internal/metrics"
)

// FragmentStream yields text fragments until io.EOF.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// Streamer opens a streaming generation request.
type Streamer interface {
	StreamGenerateContent(ctx context.Context, apiKey string, req genai.GenerateRequest) (FragmentStream, error)
}

// Status is the terminal state of one generation attempt.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Result reports how a generation attempt ended. Content is the accumulated
// model text; Validation is set only for completed structured responses.
type Result struct {
	Status     Status
	Validation ValidationStatus
	Content    string
}

// GenerateInput is one generation request as the user framed it.
type GenerateInput struct {
	APIKey             string
	Model              string
	SystemInstruction  string
	Examples           []Example
	Temperature        float64
	Prompt             string
	Screenshot         string // PNG data URI, optional
	StructuredResponse bool
	ResponseSchema     string
	StructuredInput    bool

	// OnFragment runs after each fragment is applied to the log.
	OnFragment func(string)
	// OnAccepted runs once the request passes validation and the user turn
	// is committed, before streaming begins.
	OnAccepted func()
}

type ControllerConfig struct {
	Client  Streamer
	Log     *Log
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Controller drives one abortable streaming generation at a time over a
// shared conversation log.
type Controller struct {
	cfg ControllerConfig

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Controller{cfg: cfg}
}

// Active reports whether a generation is currently streaming.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Stop aborts the in-flight generation, if any. The attempt ends cancelled
// and keeps the fragments applied so far.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Generate runs one full generation attempt. A second call while one is
// active returns ErrGenerationActive. Failures roll back only the trailing
// model turn; the user turn stays so the exchange can be retried.
func (c *Controller) Generate(ctx context.Context, in GenerateInput) (Result, error) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return Result{}, ErrGenerationActive
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	c.active = true
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.active = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	attemptID := uuid.NewString()
	logger := c.cfg.Logger.With().Str("attempt_id", attemptID).Str("model", in.Model).Logger()

	prompt := in.Prompt
	if strings.TrimSpace(prompt) == "" && in.Screenshot != "" {
		prompt = DefaultAnalyzeInstruction
	}
	if strings.TrimSpace(prompt) == "" && in.Screenshot == "" {
		return Result{}, &GenerateError{Message: "Prompt cannot be empty."}
	}
	if strings.TrimSpace(in.Model) == "" {
		return Result{}, &GenerateError{Message: "No model selected."}
	}

	var schema json.RawMessage
	if in.StructuredResponse {
		if err := ValidateSchema(in.ResponseSchema); err != nil {
			return Result{}, &GenerateError{
				Message: fmt.Sprintf("Cannot generate response. Please fix the JSON schema error: %s", err.Error()),
			}
		}
		schema = json.RawMessage(strings.TrimSpace(in.ResponseSchema))
	}
	if in.StructuredInput {
		if err := ValidatePromptJSON(in.Prompt); err != nil {
			return Result{}, &GenerateError{
				Message: fmt.Sprintf("Cannot generate response. Please fix the User Prompt JSON error: %s", err.Error()),
			}
		}
	}

	imageData, err := imagePayload(in.Screenshot)
	if err != nil {
		return Result{}, &GenerateError{Message: err.Error()}
	}

	history := c.cfg.Log.Snapshot()
	c.cfg.Log.AppendUser(prompt, in.Screenshot)
	c.cfg.Log.AppendPlaceholder()
	if in.OnAccepted != nil {
		in.OnAccepted()
	}

	req := Compose(ComposeInput{
		Model:             in.Model,
		SystemInstruction: in.SystemInstruction,
		Temperature:       in.Temperature,
		Examples:          in.Examples,
		History:           history,
		Prompt:            prompt,
		ImageData:         imageData,
		ResponseSchema:    schema,
	})

	c.cfg.Metrics.GenerationsStarted.Inc()
	logger.Info().Int("contents", len(req.Contents)).Msg("generation started")

	stream, err := c.cfg.Client.StreamGenerateContent(attemptCtx, in.APIKey, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.cfg.Metrics.GenerationsCancelled.Inc()
			logger.Info().Msg("generation cancelled before stream opened")
			return c.finish(Result{Status: StatusCancelled}), nil
		}
		c.cfg.Metrics.GenerationsFailed.Inc()
		c.cfg.Log.DropLast(1)
		msg := FormatAPIError(err)
		logger.Warn().Err(err).Msg("generation failed to start")
		return Result{Status: StatusFailed}, &GenerateError{Message: msg}
	}
	defer stream.Close()

	for {
		frag, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.Canceled) || attemptCtx.Err() != nil {
				c.cfg.Metrics.GenerationsCancelled.Inc()
				logger.Info().Msg("generation cancelled")
				return c.finish(Result{Status: StatusCancelled}), nil
			}
			c.cfg.Metrics.GenerationsFailed.Inc()
			c.cfg.Log.DropLast(1)
			msg := FormatAPIError(err)
			logger.Warn().Err(err).Msg("generation failed mid-stream")
			return Result{Status: StatusFailed}, &GenerateError{Message: msg}
		}
		// A stop that raced the read wins; the in-hand fragment is dropped.
		if attemptCtx.Err() != nil {
			c.cfg.Metrics.GenerationsCancelled.Inc()
			logger.Info().Msg("generation cancelled")
			return c.finish(Result{Status: StatusCancelled}), nil
		}
		if frag == "" {
			continue
		}
		c.cfg.Log.AppendFragment(frag)
		c.cfg.Metrics.FragmentsTotal.Inc()
		if in.OnFragment != nil {
			in.OnFragment(frag)
		}
	}

	res := c.finish(Result{Status: StatusCompleted})
	// An empty completion stays unvalidated, matching the log turn.
	if in.StructuredResponse && res.Content != "" {
		if json.Valid([]byte(res.Content)) {
			res.Validation = ValidationValid
		} else {
			res.Validation = ValidationInvalid
		}
		c.cfg.Log.SetLastValidation(res.Validation)
	}
	c.cfg.Metrics.GenerationsCompleted.Inc()
	logger.Info().Int("chars", len(res.Content)).Msg("generation completed")
	return res, nil
}

// finish fills Result.Content from the trailing model turn.
func (c *Controller) finish(res Result) Result {
	turns := c.cfg.Log.Snapshot()
	if len(turns) > 0 && turns[len(turns)-1].Role == RoleModel {
		res.Content = turns[len(turns)-1].Content
	}
	return res
}

// imagePayload strips the data URI wrapper off a PNG screenshot.
func imagePayload(dataURI string) (string, error) {
	if dataURI == "" {
		return "", nil
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURI, prefix) {
		return "", errors.New("screenshot must be a base64 PNG data URI")
	}
	return strings.TrimPrefix(dataURI, prefix), nil
}
