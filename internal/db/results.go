package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

// GetExtractionResults returns the stored pipeline runs for an invoice,
// keyed by pipeline name.
func GetExtractionResults(ctx context.Context, invoiceID string) (map[string]models.ExtractionResult, error) {
	query := `
		SELECT id, invoice_id, pipeline, COALESCE(fields::text, '{}'),
		       COALESCE(raw_text, ''), COALESCE(confidence, 0), created_at
		FROM extraction_results
		WHERE invoice_id = $1
	`
	rows, err := Pool.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]models.ExtractionResult)
	for rows.Next() {
		var res models.ExtractionResult
		var fields string
		err := rows.Scan(&res.ID, &res.InvoiceID, &res.Pipeline, &fields,
			&res.RawText, &res.Confidence, &res.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fields), &res.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields: %w", err)
		}
		results[res.Pipeline] = res
	}
	return results, rows.Err()
}

// SaveFlowResult appends a new immutable version for the invoice and schema.
// Versions start at 1 and never overwrite prior rows.
func SaveFlowResult(ctx context.Context, res *models.FlowResult) error {
	lineage, err := json.Marshal(res.LineageErrors)
	if err != nil {
		return fmt.Errorf("failed to encode lineage errors: %w", err)
	}

	tx, err := Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM flow_results WHERE invoice_id = $1 AND schema_name = $2",
		res.InvoiceID, res.SchemaName,
	).Scan(&res.Version)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flow_results (invoice_id, version, schema_name, result, status, lineage_errors)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		res.InvoiceID, res.Version, res.SchemaName, []byte(res.Result), res.Status, lineage,
	).Scan(&res.ID, &res.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save flow result: %w", err)
	}
	return tx.Commit(ctx)
}

// GetFlowResult returns one version of a flow result, or the latest version
// when version <= 0.
func GetFlowResult(ctx context.Context, invoiceID, schemaName string, version int) (*models.FlowResult, error) {
	query := `
		SELECT id, invoice_id, version, schema_name, result::text,
		       COALESCE(status, ''), COALESCE(lineage_errors::text, '[]'), created_at
		FROM flow_results
		WHERE invoice_id = $1 AND schema_name = $2
	`
	args := []interface{}{invoiceID, schemaName}
	if version > 0 {
		query += " AND version = $3"
		args = append(args, version)
	} else {
		query += " ORDER BY version DESC LIMIT 1"
	}

	var res models.FlowResult
	var result, lineage string
	err := Pool.QueryRow(ctx, query, args...).Scan(
		&res.ID, &res.InvoiceID, &res.Version, &res.SchemaName,
		&result, &res.Status, &lineage, &res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.Result = json.RawMessage(result)
	if err := json.Unmarshal([]byte(lineage), &res.LineageErrors); err != nil {
		return nil, fmt.Errorf("failed to decode lineage errors: %w", err)
	}
	return &res, nil
}

// ListFlowVersions returns every stored version for an invoice and schema,
// oldest first.
func ListFlowVersions(ctx context.Context, invoiceID, schemaName string) ([]models.FlowResult, error) {
	query := `
		SELECT id, invoice_id, version, schema_name, result::text,
		       COALESCE(status, ''), COALESCE(lineage_errors::text, '[]'), created_at
		FROM flow_results
		WHERE invoice_id = $1 AND schema_name = $2
		ORDER BY version ASC
	`
	rows, err := Pool.Query(ctx, query, invoiceID, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []models.FlowResult
	for rows.Next() {
		var res models.FlowResult
		var result, lineage string
		err := rows.Scan(&res.ID, &res.InvoiceID, &res.Version, &res.SchemaName,
			&result, &res.Status, &lineage, &res.CreatedAt)
		if err != nil {
			return nil, err
		}
		res.Result = json.RawMessage(result)
		if err := json.Unmarshal([]byte(lineage), &res.LineageErrors); err != nil {
			return nil, fmt.Errorf("failed to decode lineage errors: %w", err)
		}
		versions = append(versions, res)
	}
	return versions, rows.Err()
}
