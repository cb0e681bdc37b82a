package db

import (
	"context"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

// SaveFieldAudits appends audit entries for one correction batch. Entries
// share the flow-result version they produced.
func SaveFieldAudits(ctx context.Context, audits []models.FieldAudit) error {
	if len(audits) == 0 {
		return nil
	}

	tx, err := Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO field_audits (invoice_id, version, field_path, old_value, new_value, origin, reason, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, a := range audits {
		_, err := tx.Exec(ctx, query,
			a.InvoiceID, a.Version, a.FieldPath, a.OldValue, a.NewValue,
			int(a.Origin), int(a.Reason), a.Actor)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListFieldAudits returns the audit trail for an invoice, oldest first.
func ListFieldAudits(ctx context.Context, invoiceID string) ([]models.FieldAudit, error) {
	query := `
		SELECT id, invoice_id, version, field_path, COALESCE(old_value, ''),
		       COALESCE(new_value, ''), origin, reason, COALESCE(actor, ''), created_at
		FROM field_audits
		WHERE invoice_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := Pool.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []models.FieldAudit
	for rows.Next() {
		var a models.FieldAudit
		var origin, reason int
		err := rows.Scan(&a.ID, &a.InvoiceID, &a.Version, &a.FieldPath,
			&a.OldValue, &a.NewValue, &origin, &reason, &a.Actor, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		a.Origin = models.DataOrigin(origin)
		a.Reason = models.ReasonCode(reason)
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
