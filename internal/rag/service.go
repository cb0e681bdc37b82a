package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digiflow/invoice-digitization-service/internal/ai"
	"github.com/digiflow/invoice-digitization-service/internal/db"
	"github.com/digiflow/invoice-digitization-service/internal/digiflow"
	"github.com/digiflow/invoice-digitization-service/internal/models"
	"github.com/digiflow/invoice-digitization-service/internal/tokens"
)

const (
	defaultMaxExamples       = 1
	defaultDistanceThreshold = 0.3

	// Embedding inputs are clipped so one oversized document cannot blow
	// the embedding request.
	maxEmbedChars = 5000
)

// Service retrieves confirmed past extractions similar to the current
// document and feeds them back as few-shot examples.
type Service struct {
	provider    ai.Provider
	optimizer   *tokens.Optimizer
	embedBudget int
	maxHits     int
	threshold   float64
}

func NewService(provider ai.Provider, optimizer *tokens.Optimizer, cfg models.RAGConfig, embedBudget int) *Service {
	maxHits := cfg.MaxExamples
	if maxHits <= 0 {
		maxHits = defaultMaxExamples
	}
	threshold := cfg.DistanceThreshold
	if threshold <= 0 {
		threshold = defaultDistanceThreshold
	}
	return &Service{
		provider:    provider,
		optimizer:   optimizer,
		embedBudget: embedBudget,
		maxHits:     maxHits,
		threshold:   threshold,
	}
}

// embedText condenses a document to fit the embedding budget. Page labels
// keep positional hints in the vector; the rune clip guards against
// tokenizing an absurdly large document.
func (s *Service) embedText(documentText string) string {
	text := clip(documentText)
	if s.optimizer == nil || s.embedBudget <= 0 {
		return text
	}
	pages := strings.Split(text, "\n\n")
	if condensed := s.optimizer.WeightedEmbeddingText(pages, s.embedBudget); condensed != "" {
		return condensed
	}
	return text
}

// FewShot returns the closest confirmed example from the named schema's pool
// under the distance threshold, or nil when none qualifies. Retrieval
// failures degrade to zero-shot rather than failing the extraction.
func (s *Service) FewShot(ctx context.Context, schemaName, documentText string) (*digiflow.FewShotExample, error) {
	if documentText == "" {
		return nil, nil
	}

	embedding, err := s.provider.Embed(ctx, s.embedText(documentText))
	if err != nil {
		return nil, fmt.Errorf("failed to embed document: %w", err)
	}

	hits, err := db.NearestTrainingExamples(ctx, schemaName, embedding, s.maxHits)
	if err != nil {
		return nil, fmt.Errorf("failed to search examples: %w", err)
	}
	if len(hits) == 0 || hits[0].Distance > s.threshold {
		return nil, nil
	}

	best := hits[0]
	slog.Debug("few-shot example retrieved",
		"schema", schemaName, "example_id", best.ID, "distance", best.Distance)
	return &digiflow.FewShotExample{
		DocumentText: best.DocumentText,
		ResultJSON:   best.ResultJSON,
	}, nil
}

// StoreExample saves a confirmed extraction for future retrieval.
func (s *Service) StoreExample(ctx context.Context, schemaName, documentText, resultJSON string) error {
	text := s.embedText(documentText)
	embedding, err := s.provider.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed example: %w", err)
	}

	ex := &db.TrainingExample{
		SchemaName:   schemaName,
		DocumentText: text,
		ResultJSON:   resultJSON,
	}
	if err := db.SaveTrainingExample(ctx, ex, embedding); err != nil {
		return err
	}
	slog.Info("training example stored", "schema", schemaName, "example_id", ex.ID)
	return nil
}

func clip(s string) string {
	runes := []rune(s)
	if len(runes) <= maxEmbedChars {
		return s
	}
	return string(runes[:maxEmbedChars])
}
