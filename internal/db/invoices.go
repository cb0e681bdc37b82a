package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

// SaveInvoice inserts a new invoice row and fills in ID and CreatedAt.
func SaveInvoice(ctx context.Context, inv *models.Invoice) error {
	fields, err := json.Marshal(inv.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	query := `
		INSERT INTO invoices (file_name, object_key, kind, status, fields, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err = Pool.QueryRow(ctx, query,
		inv.FileName, inv.ObjectKey, inv.Kind, string(inv.Status), fields, inv.Confidence,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

// ListInvoices returns invoices ordered newest first, optionally filtered by
// status.
func ListInvoices(ctx context.Context, status models.Status, limit, offset int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, COALESCE(file_name, ''), COALESCE(object_key, ''), COALESCE(kind, ''),
		       COALESCE(status, 'UPLOADED'), COALESCE(fields::text, '{}'), COALESCE(confidence, 0),
		       created_at, updated_at
		FROM invoices
	`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// GetInvoiceByID retrieves a single invoice by ID
func GetInvoiceByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	query := `
		SELECT id, COALESCE(file_name, ''), COALESCE(object_key, ''), COALESCE(kind, ''),
		       COALESCE(status, 'UPLOADED'), COALESCE(fields::text, '{}'), COALESCE(confidence, 0),
		       created_at, updated_at
		FROM invoices
		WHERE id = $1
	`
	inv, err := scanInvoice(Pool.QueryRow(ctx, query, invoiceID).Scan)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanInvoice(scan func(...interface{}) error) (models.Invoice, error) {
	var inv models.Invoice
	var status, fields string
	err := scan(
		&inv.ID, &inv.FileName, &inv.ObjectKey, &inv.Kind,
		&status, &fields, &inv.Confidence,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return inv, err
	}
	inv.Status = models.Status(status).Normalize()
	if err := json.Unmarshal([]byte(fields), &inv.Fields); err != nil {
		return inv, fmt.Errorf("failed to decode fields: %w", err)
	}
	return inv, nil
}

// UpdateInvoiceStatus moves an invoice to a new state, enforcing the legal
// transitions.
func UpdateInvoiceStatus(ctx context.Context, invoiceID string, next models.Status) error {
	return transitionStatus(ctx, Pool, invoiceID, next)
}

// ForceInvoiceStatus writes a status without transition checks. Used by the
// pipeline to revert to UPLOADED after retries are exhausted.
func ForceInvoiceStatus(ctx context.Context, invoiceID string, status models.Status) error {
	query := "UPDATE invoices SET status = $1, updated_at = $2 WHERE id = $3"
	_, err := Pool.Exec(ctx, query, string(status), time.Now(), invoiceID)
	return err
}

// UpdateInvoiceFields overwrites the merged field map and confidence.
func UpdateInvoiceFields(ctx context.Context, invoiceID string, fields map[string]string, confidence float64) error {
	return writeInvoiceFields(ctx, Pool, invoiceID, fields, confidence)
}

// UpdateInvoice updates arbitrary invoice columns
func UpdateInvoice(ctx context.Context, invoiceID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	sets := []string{}
	args := []interface{}{}
	i := 1
	for key, value := range updates {
		sets = append(sets, fmt.Sprintf("%s = $%d", key, i))
		args = append(args, value)
		i++
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, time.Now())
	i++

	args = append(args, invoiceID)

	query := fmt.Sprintf("UPDATE invoices SET %s WHERE id = $%d",
		strings.Join(sets, ", "), i)

	_, err := Pool.Exec(ctx, query, args...)
	return err
}

// DeleteInvoice removes an invoice and its dependent rows
func DeleteInvoice(ctx context.Context, invoiceID string) error {
	tx, err := Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"parsing_diffs", "extraction_results", "flow_results", "field_audits"} {
		query := fmt.Sprintf("DELETE FROM %s WHERE invoice_id = $1", table)
		if _, err := tx.Exec(ctx, query, invoiceID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, "DELETE FROM invoices WHERE id = $1", invoiceID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// StatusCounts returns how many invoices sit in each state.
func StatusCounts(ctx context.Context) (map[models.Status]int, error) {
	rows, err := Pool.Query(ctx, "SELECT COALESCE(status, 'UPLOADED'), COUNT(*) FROM invoices GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.Status(status).Normalize()] += n
	}
	return counts, rows.Err()
}
