package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/digiflow/invoice-digitization-service/internal/apperr"
	"github.com/digiflow/invoice-digitization-service/internal/auth"
	"github.com/digiflow/invoice-digitization-service/internal/content"
	"github.com/digiflow/invoice-digitization-service/internal/db"
	"github.com/digiflow/invoice-digitization-service/internal/digiflow"
	"github.com/digiflow/invoice-digitization-service/internal/models"
	"github.com/digiflow/invoice-digitization-service/internal/pipeline"
	"github.com/digiflow/invoice-digitization-service/internal/rag"
	"github.com/digiflow/invoice-digitization-service/internal/reconcile"
	"github.com/digiflow/invoice-digitization-service/internal/storage"
)

const (
	MaxUploadSize = 50 * 1024 * 1024 // 50MB across the whole batch
	Version       = "1.0.0"
)

// Handler handles HTTP requests for invoice digitization
type Handler struct {
	config     *models.Config
	processor  *pipeline.Processor
	normalizer *content.Normalizer
	executor   *digiflow.Executor
	examples   *rag.Service
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, processor *pipeline.Processor, normalizer *content.Normalizer, executor *digiflow.Executor, examples *rag.Service) *Handler {
	return &Handler{
		config:     config,
		processor:  processor,
		normalizer: normalizer,
		executor:   executor,
		examples:   examples,
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/api/login", auth.LoginHandler).Methods("POST")

	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(auth.Middleware)

	// Invoice lifecycle
	protected.HandleFunc("/invoices/upload", h.UploadInvoices).Methods("POST")
	protected.HandleFunc("/invoices/export", h.ExportCSV).Methods("GET")
	protected.HandleFunc("/invoices/batch-reprocess", h.BatchReprocess).Methods("POST")
	protected.HandleFunc("/invoices", h.ListInvoices).Methods("GET")
	protected.HandleFunc("/invoices/{id}", h.GetInvoice).Methods("GET")
	protected.HandleFunc("/invoices/{id}", h.UpdateInvoice).Methods("PUT")
	protected.HandleFunc("/invoices/{id}", h.DeleteInvoice).Methods("DELETE")
	protected.HandleFunc("/invoices/{id}/reprocess", h.Reprocess).Methods("POST")
	protected.HandleFunc("/invoices/{id}/diffs/{field}/resolve", h.ResolveDiff).Methods("POST")
	protected.HandleFunc("/invoices/{id}/confirm", h.ConfirmInvoice).Methods("POST")

	// Schema-driven digitization
	protected.HandleFunc("/flows", h.CreateFlow).Methods("POST")
	protected.HandleFunc("/flows/{id}", h.GetFlow).Methods("GET")
	protected.HandleFunc("/flows/{id}/corrections", h.ApplyCorrections).Methods("POST")
	protected.HandleFunc("/flows/{id}/audit", h.GetAuditTrail).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Memory    MemoryStats       `json:"memory"`
	Tesseract ServiceStatus     `json:"tesseract"`
	Database  ServiceStatus     `json:"database"`
	Storage   ServiceStatus     `json:"storage"`
	AI        map[string]string `json:"ai"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health endpoint - enhanced for monitoring
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	tesseractStatus := h.checkTesseract()
	databaseStatus := h.checkDatabase(r)
	storageStatus := h.checkStorage(r)

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Tesseract: tesseractStatus,
		Database:  databaseStatus,
		Storage:   storageStatus,
		AI: map[string]string{
			"defaultProvider": h.config.AI.DefaultProvider,
		},
	}

	if !databaseStatus.Available || !storageStatus.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// checkTesseract verifies the OCR binary is available
func (h *Handler) checkTesseract() ServiceStatus {
	binary := h.config.OCR.Binary
	if binary == "" {
		binary = "tesseract"
	}
	cmd := exec.Command(binary, "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return ServiceStatus{
			Available: false,
			Error:     "tesseract not found or not executable",
		}
	}

	version := "unknown"
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}
	return ServiceStatus{Available: true, Version: version}
}

// checkDatabase verifies PostgreSQL connection
func (h *Handler) checkDatabase(r *http.Request) ServiceStatus {
	if err := db.Ping(r.Context()); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

// checkStorage verifies MinIO connection
func (h *Handler) checkStorage(r *http.Request) ServiceStatus {
	if !storage.Healthy(r.Context()) {
		return ServiceStatus{Available: false, Error: "storage client not initialized or bucket missing"}
	}
	return ServiceStatus{Available: true, Version: "MinIO S3"}
}

type uploadedInvoice struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// UploadInvoices accepts a multipart batch, stores each file and kicks off
// background processing. Individual bad files are reported per-slot, never
// failing the batch.
func (h *Handler) UploadInvoices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "file too large or invalid form data")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		h.sendError(w, http.StatusBadRequest, "no files provided (use 'files' or 'file' field)")
		return
	}

	results := make([]uploadedInvoice, 0, len(files))
	for _, header := range files {
		results = append(results, h.uploadOne(ctx, header))
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"invoices": results,
		"count":    len(results),
	})
}

func (h *Handler) uploadOne(ctx context.Context, header *multipart.FileHeader) uploadedInvoice {
	out := uploadedInvoice{FileName: header.Filename}

	kind := content.KindForFilename(header.Filename)
	if kind == content.KindInvalid {
		out.Error = "unsupported file type"
		return out
	}

	file, err := header.Open()
	if err != nil {
		out.Error = "failed to open file"
		return out
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		out.Error = "failed to read file"
		return out
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectKey, err := storage.UploadDocument(ctx, header.Filename, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		out.Error = fmt.Sprintf("failed to store document: %v", err)
		return out
	}

	inv := &models.Invoice{
		FileName:  header.Filename,
		ObjectKey: objectKey,
		Kind:      kind.String(),
		Status:    models.StatusUploaded,
		Fields:    map[string]string{},
	}
	if err := db.SaveInvoice(ctx, inv); err != nil {
		out.Error = fmt.Sprintf("failed to save invoice: %v", err)
		return out
	}

	out.ID = inv.ID
	out.Status = string(inv.Status)
	if err := h.processor.Enqueue(inv.ID); err != nil {
		// Row exists; processing can be retried via the reprocess endpoint.
		out.Error = fmt.Sprintf("queued upload but processing deferred: %v", err)
	}
	return out
}

// ListInvoices returns invoices, optionally filtered by ?status=
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	status := models.Status(r.URL.Query().Get("status"))

	invoices, err := db.ListInvoices(ctx, status, limit, offset)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list invoices: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"invoices": invoices,
		"count":    len(invoices),
	})
}

// GetInvoice returns a single invoice with its diffs, pipeline results and a
// presigned document URL.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	invoice, err := db.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		h.sendError(w, http.StatusNotFound, "invoice not found")
		return
	}

	diffs, err := db.ListDiffs(ctx, invoiceID)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to load diffs")
		return
	}
	results, err := db.GetExtractionResults(ctx, invoiceID)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to load results")
		return
	}

	var documentURL string
	if storage.Client != nil && invoice.ObjectKey != "" {
		if url, err := storage.GetPresignedURL(ctx, invoice.ObjectKey); err == nil {
			documentURL = url
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":      true,
		"invoice":      invoice,
		"diffs":        diffs,
		"results":      results,
		"document_url": documentURL,
	})
}

type updateInvoiceRequest struct {
	Status string            `json:"status,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// UpdateInvoice changes status and/or the merged field map
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	var req updateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" && req.Fields == nil {
		h.sendError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if req.Fields != nil {
		invoice, err := db.GetInvoiceByID(ctx, invoiceID)
		if err != nil {
			h.sendError(w, http.StatusNotFound, "invoice not found")
			return
		}
		if err := db.UpdateInvoiceFields(ctx, invoiceID, req.Fields, invoice.Confidence); err != nil {
			h.sendError(w, http.StatusInternalServerError, "failed to update fields")
			return
		}
	}
	if req.Status != "" {
		if err := db.UpdateInvoiceStatus(ctx, invoiceID, models.Status(req.Status)); err != nil {
			h.sendError(w, http.StatusConflict, err.Error())
			return
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "invoice updated",
	})
}

// DeleteInvoice removes an invoice, its artifacts and the stored document
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	if storage.Client != nil {
		if invoice, err := db.GetInvoiceByID(ctx, invoiceID); err == nil && invoice.ObjectKey != "" {
			_ = storage.DeleteDocument(ctx, invoice.ObjectKey)
		}
	}

	if err := db.DeleteInvoice(ctx, invoiceID); err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to delete invoice")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "invoice deleted",
	})
}

// Reprocess clears prior results and re-runs the pipelines
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	if err := h.reprocessOne(ctx, invoiceID); err != nil {
		h.sendError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "reprocessing scheduled",
	})
}

type batchReprocessRequest struct {
	InvoiceIDs []string `json:"invoice_ids"`
}

// BatchReprocess re-enqueues a set of invoices; per-invoice failures are
// reported without aborting the batch.
func (h *Handler) BatchReprocess(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	var req batchReprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.InvoiceIDs) == 0 {
		h.sendError(w, http.StatusBadRequest, "invoice_ids is required")
		return
	}

	failures := map[string]string{}
	for _, id := range req.InvoiceIDs {
		if err := h.reprocessOne(ctx, id); err != nil {
			failures[id] = err.Error()
		}
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   len(failures) == 0,
		"scheduled": len(req.InvoiceIDs) - len(failures),
		"failures":  failures,
	})
}

func (h *Handler) reprocessOne(ctx context.Context, invoiceID string) error {
	inv, err := db.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return apperr.NotFound("invoice not found")
	}
	if !inv.Status.CanTransition(models.StatusProcessing) {
		return apperr.Conflict(fmt.Sprintf("cannot reprocess invoice in state %s", inv.Status))
	}
	if err := db.ClearExtractionArtifacts(ctx, invoiceID); err != nil {
		return fmt.Errorf("failed to clear prior results: %w", err)
	}
	if err := h.processor.Enqueue(invoiceID); err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "processing queue full", err)
	}
	return nil
}

type resolveDiffRequest struct {
	Source string `json:"source"` // ocr, llm or manual
	Value  string `json:"value,omitempty"`
}

// ResolveDiff settles one field disagreement
func (h *Handler) ResolveDiff(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	vars := mux.Vars(r)
	invoiceID, field := vars["id"], vars["field"]

	var req resolveDiffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	diffs, err := db.ListDiffs(ctx, invoiceID)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to load diffs")
		return
	}
	var target *models.ParsingDiff
	for i := range diffs {
		if diffs[i].Field == field {
			target = &diffs[i]
			break
		}
	}
	if target == nil {
		h.sendError(w, http.StatusNotFound, fmt.Sprintf("no diff for field %q", field))
		return
	}

	var value string
	switch req.Source {
	case "ocr":
		value = target.OCRValue
	case "llm":
		value = target.LLMValue
	case "manual":
		if req.Value == "" {
			h.sendError(w, http.StatusBadRequest, "value is required for manual resolution")
			return
		}
		value = req.Value
	default:
		h.sendError(w, http.StatusBadRequest, "source must be ocr, llm or manual")
		return
	}

	if err := db.ResolveDiff(ctx, invoiceID, field, value, req.Source); err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to resolve diff")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"field":   field,
		"value":   value,
	})
}

// ConfirmInvoice moves a reviewed invoice to CONFIRMED once no unresolved
// diffs remain.
func (h *Handler) ConfirmInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	unresolved, err := db.CountUnresolvedDiffs(ctx, invoiceID)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to check diffs")
		return
	}
	if unresolved > 0 {
		h.sendError(w, http.StatusConflict, fmt.Sprintf("%d unresolved diffs remain", unresolved))
		return
	}

	if err := db.UpdateInvoiceStatus(ctx, invoiceID, models.StatusConfirmed); err != nil {
		h.sendError(w, http.StatusConflict, err.Error())
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "invoice confirmed",
	})
}

// ExportCSV streams the comparable fields of every invoice
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.Status(r.URL.Query().Get("status"))
	invoices, err := db.ListInvoices(ctx, status, 10000, 0)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		h.sendError(w, http.StatusInternalServerError, "failed to list invoices")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.csv"`)

	cw := csv.NewWriter(w)
	header := append([]string{"id", "file_name", "status", "confidence", "created_at"}, reconcile.ComparableFields...)
	cw.Write(header)
	for _, inv := range invoices {
		row := []string{
			inv.ID, inv.FileName, string(inv.Status),
			strconv.FormatFloat(inv.Confidence, 'f', 2, 64),
			inv.CreatedAt.Format(time.RFC3339),
		}
		for _, f := range reconcile.ComparableFields {
			row = append(row, inv.Fields[f])
		}
		cw.Write(row)
	}
	cw.Flush()
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
