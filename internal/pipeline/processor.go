package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digiflow/invoice-digitization-service/internal/ai"
	"github.com/digiflow/invoice-digitization-service/internal/content"
	"github.com/digiflow/invoice-digitization-service/internal/db"
	"github.com/digiflow/invoice-digitization-service/internal/models"
	"github.com/digiflow/invoice-digitization-service/internal/ocr"
	"github.com/digiflow/invoice-digitization-service/internal/reconcile"
	"github.com/digiflow/invoice-digitization-service/internal/services"
	"github.com/digiflow/invoice-digitization-service/internal/storage"
	"github.com/digiflow/invoice-digitization-service/internal/tokens"
	"github.com/digiflow/invoice-digitization-service/internal/workers"
)

const defaultMaxRetries = 3

// Processor runs the dual extraction for one invoice: rule-based parsing of
// the recognized text and LLM extraction, reconciled into a single field set.
type Processor struct {
	normalizer *content.Normalizer
	fields     *ocr.FieldExtractor
	extractor  *ai.Extractor
	optimizer  *tokens.Optimizer
	validator  *services.InvoiceValidator

	ocrPool *workers.Pool
	llmPool *workers.Pool

	promptBudget int
	maxRetries   int
	timeout      time.Duration
}

func NewProcessor(normalizer *content.Normalizer, extractor *ai.Extractor, optimizer *tokens.Optimizer, cfg models.PipelineConfig, promptBudget int) *Processor {
	if promptBudget <= 0 {
		promptBudget = 8000
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	poolOpts := func(n int) []workers.Option {
		opts := []workers.Option{workers.WithJobTimeout(timeout)}
		if n > 0 {
			opts = append(opts, workers.WithWorkers(n))
		}
		if cfg.QueueSize > 0 {
			opts = append(opts, workers.WithQueueSize(cfg.QueueSize))
		}
		return opts
	}

	return &Processor{
		normalizer:   normalizer,
		fields:       ocr.NewFieldExtractor(),
		extractor:    extractor,
		optimizer:    optimizer,
		validator:    services.NewInvoiceValidator(),
		ocrPool:      workers.NewPool("ocr", poolOpts(cfg.OCRWorkers)...),
		llmPool:      workers.NewPool("llm", poolOpts(cfg.LLMWorkers)...),
		promptBudget: promptBudget,
		maxRetries:   maxRetries,
		timeout:      timeout,
	}
}

// Start brings up the worker pools.
func (p *Processor) Start() {
	p.ocrPool.Start()
	p.llmPool.Start()
}

// Stop drains the worker pools.
func (p *Processor) Stop() {
	p.ocrPool.Stop()
	p.llmPool.Stop()
}

// Enqueue schedules a full processing run with retries on the OCR pool.
func (p *Processor) Enqueue(invoiceID string) error {
	return p.ocrPool.Submit(func(ctx context.Context) error {
		return p.ProcessWithRetry(ctx, invoiceID)
	})
}

// ProcessWithRetry runs Process up to maxRetries times with 2s, 4s, 8s
// pauses. Giving up, whether by exhaustion or cancellation mid-pause,
// reverts the invoice to UPLOADED so it never sticks in PROCESSING, and
// leaves a terminal audit entry so the failure is visible in the trail.
func (p *Processor) ProcessWithRetry(ctx context.Context, invoiceID string) error {
	return retryWithBackoff(ctx, p.maxRetries, 2*time.Second,
		func(ctx context.Context, attempt int) error {
			err := p.Process(ctx, invoiceID)
			if err != nil {
				slog.Warn("processing attempt failed",
					"invoice_id", invoiceID, "attempt", attempt, "err", err)
			}
			return err
		},
		func(ctx context.Context) { p.giveUp(ctx, invoiceID) })
}

// retryWithBackoff runs fn up to attempts times, doubling the pause between
// failures. giveUp runs on a context detached from the caller's cancellation
// so the revert still lands when the run is torn down mid-pause.
func retryWithBackoff(ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context, int) error, giveUp func(context.Context)) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt < attempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				giveUp(context.WithoutCancel(ctx))
				return fmt.Errorf("processing interrupted: %w", ctx.Err())
			}
			backoff *= 2
		}
	}
	giveUp(context.WithoutCancel(ctx))
	return fmt.Errorf("processing exhausted after %d attempts: %w", attempts, lastErr)
}

func (p *Processor) giveUp(ctx context.Context, invoiceID string) {
	if err := db.ForceInvoiceStatus(ctx, invoiceID, models.StatusUploaded); err != nil {
		slog.Error("failed to revert invoice status", "invoice_id", invoiceID, "err", err)
	}
	audit := models.FieldAudit{
		InvoiceID: invoiceID,
		FieldPath: "status",
		OldValue:  string(models.StatusProcessing),
		NewValue:  string(models.StatusUploaded),
		Origin:    models.OriginSystem,
		Reason:    models.ReasonOther,
		Actor:     "pipeline",
	}
	if err := db.SaveFieldAudits(ctx, []models.FieldAudit{audit}); err != nil {
		slog.Error("failed to write terminal audit entry", "invoice_id", invoiceID, "err", err)
	}
}

// Process runs one end-to-end digitization pass for the invoice.
func (p *Processor) Process(ctx context.Context, invoiceID string) error {
	if err := db.UpdateInvoiceStatus(ctx, invoiceID, models.StatusProcessing); err != nil {
		return fmt.Errorf("failed to enter processing: %w", err)
	}

	inv, err := db.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to load invoice: %w", err)
	}

	data, err := storage.DownloadDocument(ctx, inv.ObjectKey)
	if err != nil {
		return fmt.Errorf("failed to fetch document: %w", err)
	}

	meta, err := p.normalizer.Normalize(ctx, 1, inv.FileName, data)
	if err != nil {
		return fmt.Errorf("failed to normalize document: %w", err)
	}

	docText, spans := flatten(meta)

	ocrRes, llmRes, llmErr := p.runPipelines(ctx, inv, meta, data, docText, spans)

	hasLLM := llmErr == nil && reconcile.Meaningful(llmRes.Fields)
	results := []*models.ExtractionResult{ocrRes}
	if llmErr == nil {
		results = append(results, llmRes)
	} else {
		slog.Warn("llm pipeline unavailable, using rule-based result only",
			"invoice_id", invoiceID, "err", llmErr)
	}

	outcome := reconcile.Resolve(ocrRes.Fields, llmRes.Fields, hasLLM)

	diffs := make([]models.ParsingDiff, 0, len(outcome.Diffs))
	for _, d := range outcome.Diffs {
		diffs = append(diffs, models.ParsingDiff{
			InvoiceID:   invoiceID,
			Field:       d.Field,
			OCRValue:    d.OCRValue,
			LLMValue:    d.LLMValue,
			FinalValue:  d.FinalValue,
			Source:      string(d.Source),
			NeedsReview: d.NeedsReview,
		})
	}

	confidence := ocrRes.Confidence
	if hasLLM && llmRes.Confidence > confidence {
		confidence = llmRes.Confidence
	}

	validation := p.validator.Validate(outcome.Fields)

	next := models.StatusConfirmed
	if outcome.NeedsReview() || !validation.Valid {
		next = models.StatusReviewing
	}

	err = db.CommitProcessingOutcome(ctx, invoiceID, results, diffs, outcome.Fields, confidence, next)
	if err != nil {
		return fmt.Errorf("failed to commit processing outcome: %w", err)
	}

	slog.Info("invoice processed",
		"invoice_id", invoiceID, "status", next,
		"diffs", len(outcome.Diffs), "validation_errors", len(validation.Errors),
		"confidence", confidence)
	return nil
}

// runPipelines executes the rule-based and LLM extractions concurrently. The
// rule branch is plain regex work over text already recognized, so it runs in
// its own goroutine; submitting it back to the OCR pool would deadlock the
// worker that is running this invoice. The LLM branch reports its error for
// fallback handling.
func (p *Processor) runPipelines(ctx context.Context, inv *models.Invoice, meta *content.Metadata, data []byte, docText string, spans []ocr.Span) (*models.ExtractionResult, *models.ExtractionResult, error) {
	ocrRes := &models.ExtractionResult{InvoiceID: inv.ID, Pipeline: "ocr", RawText: docText}
	llmRes := &models.ExtractionResult{InvoiceID: inv.ID, Pipeline: "llm"}

	ocrDone := make(chan struct{})
	llmDone := make(chan error, 1)

	go func() {
		defer close(ocrDone)
		fields := p.fields.Extract(docText, spans)
		ocrRes.Fields = fields
		ocrRes.Confidence = ruleConfidence(fields)
	}()

	err := p.llmPool.Submit(func(jobCtx context.Context) error {
		extraction, err := p.extractLLM(jobCtx, meta, data, docText)
		if err != nil {
			llmDone <- err
			return err
		}
		llmRes.Fields = extraction.Fields
		llmRes.Confidence = extraction.Confidence
		llmRes.RawText = extraction.RawResponse
		llmDone <- nil
		return nil
	})
	if err != nil {
		llmDone <- fmt.Errorf("llm queue full: %w", err)
	}

	select {
	case <-ocrDone:
	case <-ctx.Done():
		return ocrRes, llmRes, ctx.Err()
	}

	var llmErr error
	select {
	case llmErr = <-llmDone:
	case <-ctx.Done():
		llmErr = ctx.Err()
	}
	return ocrRes, llmRes, llmErr
}

type renderFunc func(ctx context.Context, data []byte, pageNum int) ([]byte, error)

// visionInput returns the image bytes to send to the vision model. Images go
// in as-is; PDFs as a raster of their first page. Other kinds, and a failed
// raster, have no image form.
func visionInput(ctx context.Context, kind content.Kind, data []byte, render renderFunc) ([]byte, bool) {
	switch kind {
	case content.KindImage:
		return data, true
	case content.KindPDF:
		png, err := render(ctx, data, 1)
		if err != nil {
			slog.Warn("pdf raster for vision failed, falling back to text", "err", err)
			return nil, false
		}
		return png, true
	}
	return nil, false
}

// extractLLM prefers vision input when the provider supports it and the
// document has an image form; everything else goes through the
// token-budgeted text path.
func (p *Processor) extractLLM(ctx context.Context, meta *content.Metadata, data []byte, docText string) (*ai.Extraction, error) {
	if p.extractor.SupportsVision() {
		if img, ok := visionInput(ctx, meta.Kind, data, content.RenderPagePNG); ok {
			return p.extractor.ExtractVision(ctx, [][]byte{img})
		}
	}

	text := docText
	if p.optimizer != nil {
		pages := make([]string, 0, len(meta.Lines()))
		for _, group := range meta.Lines() {
			pages = append(pages, strings.Join(group, "\n"))
		}
		if optimized := p.optimizer.Optimize(pages, p.promptBudget); optimized != "" {
			text = optimized
		}
	}
	return p.extractor.ExtractText(ctx, text)
}

// flatten produces the raw document text and geometry spans for the
// rule-based extractor.
func flatten(meta *content.Metadata) (string, []ocr.Span) {
	var lines []string
	var spans []ocr.Span

	collect := func(boxes []content.BoundingBox) {
		for _, b := range boxes {
			lines = append(lines, b.RawValue)
			spans = append(spans, ocr.Span{
				Text: b.RawValue,
				MinX: b.TopLeftX,
				MinY: b.TopLeftY,
				MaxX: b.BottomRightX,
				MaxY: b.BottomRightY,
			})
		}
	}
	for _, p := range meta.Pages {
		collect(p.Boxes)
	}
	for _, s := range meta.Sheets {
		collect(s.Boxes)
	}
	return strings.Join(lines, "\n"), spans
}

// ruleConfidence scores the rule-based pass by how many comparable fields it
// filled.
func ruleConfidence(fields map[string]string) float64 {
	if len(reconcile.ComparableFields) == 0 {
		return 0
	}
	var filled int
	for _, f := range reconcile.ComparableFields {
		if strings.TrimSpace(fields[f]) != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(reconcile.ComparableFields))
}
