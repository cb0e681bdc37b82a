package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

// GeminiProvider talks to Google Gemini through the generative-ai SDK.
type GeminiProvider struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

func NewGeminiProvider(cfg models.GeminiConfig) (*GeminiProvider, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}
	return &GeminiProvider{client: client, model: model, embeddingModel: embeddingModel}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) SupportsVision() bool { return true }

func (p *GeminiProvider) Chat(ctx context.Context, system, user string) (string, error) {
	m := p.client.GenerativeModel(p.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	resp, err := m.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", fmt.Errorf("gemini chat: %w", err)
	}
	return collectText(resp)
}

func (p *GeminiProvider) ChatVision(ctx context.Context, system, user string, images [][]byte) (string, error) {
	m := p.client.GenerativeModel(p.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	parts := []genai.Part{genai.Text(user)}
	for _, img := range images {
		parts = append(parts, genai.ImageData("png", img))
	}
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini vision: %w", err)
	}
	return collectText(resp)
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	em := p.client.EmbeddingModel(p.embeddingModel)
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("gemini embeddings: empty response")
	}
	return resp.Embedding.Values, nil
}

func collectText(resp *genai.GenerateContentResponse) (string, error) {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini: no text in response")
	}
	return sb.String(), nil
}
