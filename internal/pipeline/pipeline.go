// Package pipeline implements the two-stage ER-diagram extraction sequence:
// a vision call that describes the diagram in free text, then a constrained
// extraction call validated against the schema contract with bounded retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/dbsketch/dbsketch/internal/imageproc"
	"github.com/dbsketch/dbsketch/internal/providers"
	"github.com/dbsketch/dbsketch/internal/schema"
)

var (
	// ErrDescriptionFailed marks a vision-stage failure. The description
	// call is never retried; its failure is terminal for the request.
	ErrDescriptionFailed = errors.New("vision description failed")

	// ErrValidationExhausted marks extraction output that failed to conform
	// after all permitted attempts.
	ErrValidationExhausted = errors.New("schema validation attempts exhausted")
)

// Config holds extraction pipeline settings. It is an explicit value passed
// into New rather than ambient process state so tests can run with alternate
// configurations.
type Config struct {
	// VisionModel identifies the image-understanding model.
	VisionModel string
	// BrainModel identifies the structured-extraction model.
	BrainModel string
	// MaxAttempts bounds total extraction attempts (default 3).
	MaxAttempts int
	// MaxTokens caps the vision response length (default 2000).
	MaxTokens int
	// StageTimeout bounds each external call (default 120s).
	StageTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 120 * time.Second
	}
	return c
}

// Extractor runs the two-stage extraction sequence. Each request is fully
// independent; an Extractor holds no per-request state and is safe for
// concurrent use.
type Extractor struct {
	client providers.LLMClient
	norm   *imageproc.Normalizer
	cfg    Config
	logger *slog.Logger
}

// New creates an Extractor backed by the given chat client.
func New(client providers.LLMClient, cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client: client,
		norm:   imageproc.NewNormalizer(logger),
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Run converts raw uploaded image bytes into a validated DatabaseSchema.
// The description call strictly precedes the extraction call; there is no
// backward transition between stages.
func (e *Extractor) Run(ctx context.Context, imageData []byte) (*schema.DatabaseSchema, error) {
	requestID := uuid.New().String()
	dataURL := imageproc.DataURL(e.norm.Normalize(imageData))

	description, err := e.describe(ctx, requestID, dataURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDescriptionFailed, err)
	}

	ds, err := e.extract(ctx, requestID, description)
	if err != nil {
		return nil, err
	}

	e.logger.Info("schema extraction complete",
		"request_id", requestID,
		"tables", len(ds.Tables),
		"relationships", len(ds.Relationships),
	)
	return ds, nil
}

// describe runs the vision stage. Failures here are not retried.
func (e *Extractor) describe(ctx context.Context, requestID, dataURL string) (string, error) {
	e.logger.Info("vision model analyzing diagram", "request_id", requestID, "model", e.cfg.VisionModel)

	res, err := e.client.Chat(ctx, &providers.ChatRequest{
		Model: e.cfg.VisionModel,
		Messages: []providers.Message{
			{Role: providers.RoleUser, Content: visionInstruction, ImageURL: dataURL},
		},
		MaxTokens: e.cfg.MaxTokens,
		Timeout:   e.cfg.StageTimeout,
		RequestID: requestID,
	})
	if err != nil {
		return "", err
	}

	description := strings.TrimSpace(res.Content)
	if description == "" {
		return "", fmt.Errorf("empty description from vision model")
	}
	return description, nil
}

// extract runs the structured-generation stage with bounded, immediate
// retries. Each failed attempt feeds the parse/validation error back to the
// model as a corrective follow-up exchange.
func (e *Extractor) extract(ctx context.Context, requestID, description string) (*schema.DatabaseSchema, error) {
	schemaText, err := schema.FormatJSON()
	if err != nil {
		return nil, err
	}

	messages := []providers.Message{
		{Role: providers.RoleSystem, Content: fmt.Sprintf(extractionSystemPrompt, string(schemaText))},
		{Role: providers.RoleUser, Content: extractionPrompt(description)},
	}

	var result *schema.DatabaseSchema
	attempt := 0

	err = retry.Do(
		func() error {
			attempt++
			e.logger.Info("extraction model generating schema",
				"request_id", requestID, "model", e.cfg.BrainModel, "attempt", attempt)

			res, err := e.client.Chat(ctx, &providers.ChatRequest{
				Model:     e.cfg.BrainModel,
				Messages:  messages,
				JSONMode:  true,
				Timeout:   e.cfg.StageTimeout,
				RequestID: requestID,
			})
			if err != nil {
				return err
			}

			parsed, err := parseStructuredJSON(res.Content)
			if err != nil {
				messages = e.appendCorrection(messages, res.Content, schemaText, err)
				return err
			}

			ds, err := schema.Validate(parsed)
			if err != nil {
				messages = e.appendCorrection(messages, res.Content, schemaText, err)
				return err
			}

			result = ds
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.cfg.MaxAttempts)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrValidationExhausted, attempt, err)
	}

	return result, nil
}

func (e *Extractor) appendCorrection(messages []providers.Message, lastOutput string, schemaText []byte, issue error) []providers.Message {
	e.logger.Warn("extraction output rejected", "error", issue)

	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > 12000 {
		lastOutput = lastOutput[:12000] + "\n...[truncated]"
	}

	return append(messages,
		providers.Message{Role: providers.RoleAssistant, Content: lastOutput},
		providers.Message{Role: providers.RoleUser, Content: correctivePrompt(schemaText, issue)},
	)
}
