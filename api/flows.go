package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/digiflow/invoice-digitization-service/internal/auth"
	"github.com/digiflow/invoice-digitization-service/internal/content"
	"github.com/digiflow/invoice-digitization-service/internal/db"
	"github.com/digiflow/invoice-digitization-service/internal/digiflow"
	"github.com/digiflow/invoice-digitization-service/internal/ledger"
	"github.com/digiflow/invoice-digitization-service/internal/models"
	"github.com/digiflow/invoice-digitization-service/internal/storage"
)

type createFlowRequest struct {
	InvoiceID  string          `json:"invoice_id"`
	SchemaName string          `json:"schema_name"`
	Schema     json.RawMessage `json:"schema"`
}

// CreateFlow runs a schema-driven digitization against an uploaded document
// and stores the outcome as a new flow-result version.
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	var req createFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InvoiceID == "" || req.SchemaName == "" || len(req.Schema) == 0 {
		h.sendError(w, http.StatusBadRequest, "invoice_id, schema_name and schema are required")
		return
	}

	schema, err := digiflow.CompileSchema(req.SchemaName, string(req.Schema))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid schema: %v", err))
		return
	}

	meta, err := h.normalizeInvoice(ctx, req.InvoiceID)
	if err != nil {
		h.sendError(w, http.StatusNotFound, err.Error())
		return
	}

	result, err := h.executor.Execute(ctx, digiflow.Request{Schema: schema, Meta: meta})
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	flow, err := h.persistFlow(ctx, req.InvoiceID, req.SchemaName, result)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Status == digiflow.StatusSuccess && ledger.ShouldAutoConfirm(result.Data, flowFindings(result)) {
		h.storeTrainingExample(ctx, req.SchemaName, meta, result.Data)
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": result.Status != digiflow.StatusError,
		"flow":    flow,
		"result":  result,
	})
}

// GetFlow returns one stored flow-result version (?schema=...&version=N,
// latest when version is omitted).
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	schemaName := r.URL.Query().Get("schema")
	if schemaName == "" {
		h.sendError(w, http.StatusBadRequest, "schema query parameter is required")
		return
	}
	version, _ := strconv.Atoi(r.URL.Query().Get("version"))

	flow, err := db.GetFlowResult(ctx, invoiceID, schemaName, version)
	if err != nil {
		h.sendError(w, http.StatusNotFound, "flow result not found")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"flow":    flow,
	})
}

type correctionsRequest struct {
	SchemaName string             `json:"schema_name"`
	Edits      []ledger.FieldEdit `json:"edits"`
}

// ApplyCorrections applies a bulk of field edits atomically: one new
// flow-result version plus one audit entry per edit. The prior version is
// left untouched.
func (h *Handler) ApplyCorrections(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	var req correctionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SchemaName == "" || len(req.Edits) == 0 {
		h.sendError(w, http.StatusBadRequest, "schema_name and edits are required")
		return
	}

	prior, err := db.GetFlowResult(ctx, invoiceID, req.SchemaName, 0)
	if err != nil {
		h.sendError(w, http.StatusNotFound, "no flow result to correct")
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(prior.Result, &doc); err != nil {
		h.sendError(w, http.StatusInternalServerError, "stored result is not an object")
		return
	}

	// Capture old values before the edit for the audit trail.
	oldValues := make([]string, len(req.Edits))
	for i, edit := range req.Edits {
		if v, ok := ledger.ValueAt(doc, edit.FieldPath); ok {
			oldValues[i] = stringifyValue(v)
		}
	}

	corrected, err := ledger.ApplyEdits(doc, req.Edits)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	encoded, err := json.Marshal(corrected)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to encode corrected result")
		return
	}

	flow := &models.FlowResult{
		InvoiceID:  invoiceID,
		SchemaName: req.SchemaName,
		Result:     encoded,
		Status:     digiflow.StatusSuccess,
	}
	if err := db.SaveFlowResult(ctx, flow); err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to save corrected version")
		return
	}

	actor := auth.ActorFromContext(ctx)
	audits := make([]models.FieldAudit, len(req.Edits))
	for i, edit := range req.Edits {
		reason := edit.Reason
		if reason == 0 {
			reason = models.ReasonOther
		}
		audits[i] = models.FieldAudit{
			InvoiceID: invoiceID,
			Version:   flow.Version,
			FieldPath: edit.FieldPath,
			OldValue:  oldValues[i],
			NewValue:  stringifyValue(edit.NewValue),
			Origin:    models.OriginUser,
			Reason:    reason,
			Actor:     actor,
		}
	}
	if err := db.SaveFieldAudits(ctx, audits); err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to write audit trail")
		return
	}

	// Human-corrected results are the best training signal we have.
	if meta, err := h.normalizeInvoice(ctx, invoiceID); err == nil {
		h.storeTrainingExample(ctx, req.SchemaName, meta, corrected)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"flow":    flow,
		"edits":   len(req.Edits),
	})
}

// GetAuditTrail returns every field change recorded for the invoice
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	audits, err := db.ListFieldAudits(ctx, invoiceID)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to load audit trail")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"audit":   audits,
		"count":   len(audits),
	})
}

// normalizeInvoice fetches the stored document and rebuilds its addressable
// metadata.
func (h *Handler) normalizeInvoice(ctx context.Context, invoiceID string) (*content.Metadata, error) {
	invoice, err := db.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice not found")
	}
	data, err := storage.DownloadDocument(ctx, invoice.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	meta, err := h.normalizer.Normalize(ctx, 1, invoice.FileName, data)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize document: %w", err)
	}
	return meta, nil
}

// persistFlow converts an execution result into a stored version.
func (h *Handler) persistFlow(ctx context.Context, invoiceID, schemaName string, result *digiflow.Result) (*models.FlowResult, error) {
	encoded, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	var findings []string
	for _, e := range result.LineageErrors {
		findings = append(findings, e.Error())
	}
	for _, f := range result.MissingFields {
		findings = append(findings, "missing required field "+f)
	}
	for _, p := range result.UnsourcedPaths {
		findings = append(findings, "no data source for "+p)
	}

	flow := &models.FlowResult{
		InvoiceID:     invoiceID,
		SchemaName:    schemaName,
		Result:        encoded,
		Status:        result.Status,
		LineageErrors: findings,
	}
	if err := db.SaveFlowResult(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to save flow result: %w", err)
	}
	return flow, nil
}

func (h *Handler) storeTrainingExample(ctx context.Context, schemaName string, meta *content.Metadata, result map[string]any) {
	if h.examples == nil {
		return
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return
	}
	docText := flattenLines(meta)
	if err := h.examples.StoreExample(ctx, schemaName, docText, string(resultJSON)); err != nil {
		slog.Warn("failed to store training example", "schema", schemaName, "err", err)
	}
}

func flattenLines(meta *content.Metadata) string {
	var parts []string
	for _, group := range meta.Lines() {
		parts = append(parts, strings.Join(group, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func flowFindings(result *digiflow.Result) int {
	return len(result.LineageErrors) + len(result.MissingFields) + len(result.UnsourcedPaths)
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(encoded)
	}
}
