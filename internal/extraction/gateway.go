// Package extraction sends payment screenshots to Gemini and turns the model's
// answer into a transaction draft.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/payscan/internal/domain"
	"github.com/dvloznov/payscan/internal/logger"
	"google.golang.org/genai"
)

const (
	DefaultModel   = "gemini-2.0-flash-001"
	DefaultTimeout = 30 * time.Second
	DefaultMIME    = "image/jpeg"
)

// Generator is the part of the genai client the gateway uses.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Extractor returns the raw model text for a screenshot.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Gateway makes a single, bounded model call per screenshot. It never retries.
type Gateway struct {
	gen     Generator
	model   string
	timeout time.Duration
}

// NewGateway wraps an existing generator.
func NewGateway(gen Generator, model string, timeout time.Duration) *Gateway {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{gen: gen, model: model, timeout: timeout}
}

// NewGeminiGateway creates a genai client for the Gemini API.
func NewGeminiGateway(ctx context.Context, apiKey, model string, timeout time.Duration) (*Gateway, error) {
	if apiKey == "" {
		return nil, errors.New("NewGeminiGateway: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiGateway: create genai client: %w", err)
	}
	return NewGateway(client.Models, model, timeout), nil
}

// Extract sends the image with the fixed instructions and returns the model text
// unparsed. Transport errors, timeouts and empty answers wrap
// domain.ErrExtractionFailed.
func (g *Gateway) Extract(ctx context.Context, image []byte, mimeType string) (string, error) {
	log := logger.FromContext(ctx)

	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty image", domain.ErrExtractionFailed)
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = DefaultMIME
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: instructions},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     image,
					},
				},
			},
		},
	}

	start := time.Now()
	resp, err := g.gen.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		log.Error().Err(err).Str("model", g.model).Dur("elapsed", time.Since(start)).Msg("Extraction call failed")
		return "", fmt.Errorf("%w: generate content: %v", domain.ErrExtractionFailed, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: empty response from model", domain.ErrExtractionFailed)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty response from model", domain.ErrExtractionFailed)
	}

	log.Debug().
		Str("model", g.model).
		Int("image_bytes", len(image)).
		Dur("elapsed", time.Since(start)).
		Msg("Extraction completed")

	return text, nil
}
