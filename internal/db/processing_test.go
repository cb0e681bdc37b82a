package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// fakeQuerier records every statement so tests can assert what the write
// path executes and in what order, without a live database.
type fakeQuerier struct {
	status string
	sqls   []string
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.sqls = append(f.sqls, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.sqls = append(f.sqls, sql)
	switch {
	case strings.Contains(sql, "RETURNING id, created_at"):
		return scanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = "res-1"
			*(dest[1].(*time.Time)) = time.Now()
			return nil
		})
	case strings.Contains(sql, "SELECT status"):
		return scanFunc(func(dest ...any) error {
			*(dest[0].(*string)) = f.status
			return nil
		})
	}
	return scanFunc(func(...any) error { return pgx.ErrNoRows })
}

func (f *fakeQuerier) indexOf(t *testing.T, fragment string) int {
	t.Helper()
	for i, sql := range f.sqls {
		if strings.Contains(sql, fragment) {
			return i
		}
	}
	t.Fatalf("no statement containing %q", fragment)
	return -1
}

func TestWriteProcessingOutcomeStatusCommitsLast(t *testing.T) {
	q := &fakeQuerier{status: string(models.StatusProcessing)}
	results := []*models.ExtractionResult{
		{InvoiceID: "inv-1", Pipeline: "ocr", Fields: map[string]string{"invoice_number": "123"}},
		{InvoiceID: "inv-1", Pipeline: "llm", Fields: map[string]string{"invoice_number": "123"}},
	}
	diffs := []models.ParsingDiff{
		{Field: "invoice_number", OCRValue: "123", LLMValue: "123", FinalValue: "123", Source: "matched"},
	}

	err := writeProcessingOutcome(context.Background(), q, "inv-1",
		results, diffs, map[string]string{"invoice_number": "123"}, 0.9, models.StatusReviewing)
	require.NoError(t, err)

	// Both results get ids back from the insert.
	assert.Equal(t, "res-1", results[0].ID)
	assert.Equal(t, "res-1", results[1].ID)

	// The status update is the very last statement, after results, diffs
	// and the merged field map.
	statusUpdate := q.indexOf(t, "SET status")
	assert.Equal(t, len(q.sqls)-1, statusUpdate)
	assert.Less(t, q.indexOf(t, "INSERT INTO extraction_results"), statusUpdate)
	assert.Less(t, q.indexOf(t, "INSERT INTO parsing_diffs"), statusUpdate)
	assert.Less(t, q.indexOf(t, "SET fields"), statusUpdate)
}

func TestWriteProcessingOutcomeRejectsIllegalTransition(t *testing.T) {
	q := &fakeQuerier{status: string(models.StatusUploaded)}

	err := writeProcessingOutcome(context.Background(), q, "inv-1",
		nil, nil, map[string]string{}, 0, models.StatusConfirmed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal status transition")

	// The failed transition check must leave the status untouched.
	for _, sql := range q.sqls {
		assert.NotContains(t, sql, "SET status")
	}
}

func TestWriteDiffsCarriesResolution(t *testing.T) {
	q := &fakeQuerier{}
	diffs := []models.ParsingDiff{
		{Field: "buyer_name", OCRValue: "甲公司", LLMValue: "乙公司", Source: "conflict", NeedsReview: true},
	}
	require.NoError(t, writeDiffs(context.Background(), q, "inv-1", diffs))

	insert := q.sqls[q.indexOf(t, "INSERT INTO parsing_diffs")]
	assert.Contains(t, insert, "final_value")
	assert.Contains(t, insert, "needs_review")
	assert.Contains(t, q.sqls[0], "DELETE FROM parsing_diffs")
}
