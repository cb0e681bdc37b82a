package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

// execQuerier is the slice of pgx.Tx (also satisfied by *pgxpool.Pool) the
// write helpers run against, so the same SQL serves both the transactional
// processing path and the standalone endpoints.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CommitProcessingOutcome persists everything one pipeline run produced in a
// single transaction: the extraction results, the diff set, the merged field
// map, and the status transition. Either the whole write set lands or none
// of it does, so a status is never visible without its supporting rows.
func CommitProcessingOutcome(ctx context.Context, invoiceID string, results []*models.ExtractionResult, diffs []models.ParsingDiff, fields map[string]string, confidence float64, next models.Status) error {
	tx, err := Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := writeProcessingOutcome(ctx, tx, invoiceID, results, diffs, fields, confidence, next); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func writeProcessingOutcome(ctx context.Context, q execQuerier, invoiceID string, results []*models.ExtractionResult, diffs []models.ParsingDiff, fields map[string]string, confidence float64, next models.Status) error {
	for _, res := range results {
		if err := writeExtractionResult(ctx, q, res); err != nil {
			return err
		}
	}
	if err := writeDiffs(ctx, q, invoiceID, diffs); err != nil {
		return err
	}
	if err := writeInvoiceFields(ctx, q, invoiceID, fields, confidence); err != nil {
		return err
	}
	return transitionStatus(ctx, q, invoiceID, next)
}

func writeExtractionResult(ctx context.Context, q execQuerier, res *models.ExtractionResult) error {
	fields, err := json.Marshal(res.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	_, err = q.Exec(ctx,
		"DELETE FROM extraction_results WHERE invoice_id = $1 AND pipeline = $2",
		res.InvoiceID, res.Pipeline)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO extraction_results (invoice_id, pipeline, fields, raw_text, confidence)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err = q.QueryRow(ctx, query,
		res.InvoiceID, res.Pipeline, fields, res.RawText, res.Confidence,
	).Scan(&res.ID, &res.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save extraction result: %w", err)
	}
	return nil
}

func writeInvoiceFields(ctx context.Context, q execQuerier, invoiceID string, fields map[string]string, confidence float64) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	_, err = q.Exec(ctx,
		"UPDATE invoices SET fields = $1, confidence = $2, updated_at = $3 WHERE id = $4",
		encoded, confidence, time.Now(), invoiceID)
	return err
}

// transitionStatus enforces the legal transitions while holding the invoice
// row, so a concurrent reprocess cannot race the check.
func transitionStatus(ctx context.Context, q execQuerier, invoiceID string, next models.Status) error {
	var status string
	err := q.QueryRow(ctx,
		"SELECT status FROM invoices WHERE id = $1 FOR UPDATE", invoiceID,
	).Scan(&status)
	if err != nil {
		return err
	}
	current := models.Status(status).Normalize()
	if !current.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s", current, next)
	}
	_, err = q.Exec(ctx,
		"UPDATE invoices SET status = $1, updated_at = $2 WHERE id = $3",
		string(next), time.Now(), invoiceID)
	return err
}
