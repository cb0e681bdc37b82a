package db

import (
	"context"
	"time"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

// writeDiffs deletes any existing diffs for the invoice and inserts the new
// set, so a reprocess never leaves stale rows behind.
func writeDiffs(ctx context.Context, q execQuerier, invoiceID string, diffs []models.ParsingDiff) error {
	_, err := q.Exec(ctx, "DELETE FROM parsing_diffs WHERE invoice_id = $1", invoiceID)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO parsing_diffs (invoice_id, field, ocr_value, llm_value, final_value, source, needs_review)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, d := range diffs {
		_, err := q.Exec(ctx, query,
			invoiceID, d.Field, d.OCRValue, d.LLMValue, d.FinalValue, d.Source, d.NeedsReview)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListDiffs returns the unresolved and resolved diffs for an invoice.
func ListDiffs(ctx context.Context, invoiceID string) ([]models.ParsingDiff, error) {
	query := `
		SELECT id, invoice_id, field, COALESCE(ocr_value, ''), COALESCE(llm_value, ''),
		       COALESCE(final_value, ''), COALESCE(source, ''), COALESCE(needs_review, false),
		       COALESCE(resolved_value, ''), COALESCE(resolved_by, ''), created_at
		FROM parsing_diffs
		WHERE invoice_id = $1
		ORDER BY field ASC
	`
	rows, err := Pool.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var diffs []models.ParsingDiff
	for rows.Next() {
		var d models.ParsingDiff
		err := rows.Scan(&d.ID, &d.InvoiceID, &d.Field, &d.OCRValue, &d.LLMValue,
			&d.FinalValue, &d.Source, &d.NeedsReview,
			&d.ResolvedValue, &d.ResolvedBy, &d.CreatedAt)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, d)
	}
	return diffs, rows.Err()
}

// ResolveDiff records which value won a disagreement and mirrors the choice
// into the invoice's merged field map.
func ResolveDiff(ctx context.Context, invoiceID, field, resolvedValue, resolvedBy string) error {
	tx, err := Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var diffID string
	err = tx.QueryRow(ctx,
		"UPDATE parsing_diffs SET resolved_value = $1, resolved_by = $2 WHERE invoice_id = $3 AND field = $4 RETURNING id",
		resolvedValue, resolvedBy, invoiceID, field,
	).Scan(&diffID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		"UPDATE invoices SET fields = jsonb_set(COALESCE(fields, '{}'), ARRAY[$1], to_jsonb($2::text)), updated_at = $3 WHERE id = $4",
		field, resolvedValue, time.Now(), invoiceID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ClearExtractionArtifacts drops prior pipeline results and diffs ahead of a
// reprocess.
func ClearExtractionArtifacts(ctx context.Context, invoiceID string) error {
	tx, err := Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"parsing_diffs", "extraction_results"} {
		query := "DELETE FROM " + table + " WHERE invoice_id = $1"
		if _, err := tx.Exec(ctx, query, invoiceID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// CountUnresolvedDiffs returns how many conflicting diffs still lack a
// manual resolution. Matched and one-sided rows never count.
func CountUnresolvedDiffs(ctx context.Context, invoiceID string) (int, error) {
	var n int
	err := Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM parsing_diffs WHERE invoice_id = $1 AND needs_review AND COALESCE(resolved_value, '') = ''",
		invoiceID,
	).Scan(&n)
	return n, err
}
