package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// TrainingExample is one confirmed extraction kept for few-shot retrieval.
type TrainingExample struct {
	ID           string  `json:"id"`
	SchemaName   string  `json:"schema_name"`
	DocumentText string  `json:"document_text"`
	ResultJSON   string  `json:"result_json"`
	Distance     float64 `json:"distance,omitempty"`
}

// vectorLiteral renders an embedding as a pgvector input literal.
func vectorLiteral(embedding []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// SaveTrainingExample stores a confirmed result alongside its embedding.
func SaveTrainingExample(ctx context.Context, ex *TrainingExample, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding")
	}

	query := `
		INSERT INTO digi_flow_training_vectors (schema_name, document_text, result_json, embedding)
		VALUES ($1, $2, $3, $4::vector)
		RETURNING id
	`
	err := Pool.QueryRow(ctx, query,
		ex.SchemaName, ex.DocumentText, ex.ResultJSON, vectorLiteral(embedding),
	).Scan(&ex.ID)
	if err != nil {
		return fmt.Errorf("failed to save training example: %w", err)
	}
	return nil
}

// NearestTrainingExamples returns up to limit examples for the schema ordered
// by cosine distance to the query embedding.
func NearestTrainingExamples(ctx context.Context, schemaName string, embedding []float32, limit int) ([]TrainingExample, error) {
	if limit <= 0 {
		limit = 1
	}

	query := `
		SELECT id, schema_name, document_text, result_json, embedding <=> $1::vector AS distance
		FROM digi_flow_training_vectors
		WHERE schema_name = $2
		ORDER BY distance ASC
		LIMIT $3
	`
	rows, err := Pool.Query(ctx, query, vectorLiteral(embedding), schemaName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var examples []TrainingExample
	for rows.Next() {
		var ex TrainingExample
		err := rows.Scan(&ex.ID, &ex.SchemaName, &ex.DocumentText, &ex.ResultJSON, &ex.Distance)
		if err != nil {
			return nil, err
		}
		examples = append(examples, ex)
	}
	return examples, rows.Err()
}
