package digiflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/digiflow/invoice-digitization-service/internal/ai"
	"github.com/digiflow/invoice-digitization-service/internal/content"
)

// Run statuses. A run only errors when no usable result came back at all;
// validation findings downgrade it to review, never to failure.
const (
	StatusSuccess        = "success"
	StatusReviewRequired = "review_required"
	StatusError          = "error"
)

// ExampleSource provides a confirmed prior extraction from the named
// schema's example pool similar to the current document, or nil when none
// qualifies.
type ExampleSource interface {
	FewShot(ctx context.Context, schemaName, documentText string) (*FewShotExample, error)
}

// Request is one digitization run.
type Request struct {
	Schema *Schema
	Meta   *content.Metadata
}

// Result is the outcome of one run.
type Result struct {
	Status         string         `json:"status"`
	Data           map[string]any `json:"data,omitempty"`
	LineageErrors  []LineageError `json:"lineage_errors,omitempty"`
	MissingFields  []string       `json:"missing_fields,omitempty"`
	UnsourcedPaths []string       `json:"unsourced_paths,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// Executor drives schema-driven extraction: prompt, invoke, parse, validate.
type Executor struct {
	provider ai.Provider
	prompts  *PromptEngine
	examples ExampleSource
	timeout  time.Duration
}

func NewExecutor(provider ai.Provider, examples ExampleSource, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Executor{
		provider: provider,
		prompts:  NewPromptEngine(),
		examples: examples,
		timeout:  timeout,
	}
}

// Execute runs one digitization request end to end. Provider timeouts and
// parse failures produce an error-status result rather than a Go error so
// the caller can persist the failed run; only nil inputs return an error.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.Schema == nil || req.Meta == nil {
		return nil, errors.New("digiflow: schema and metadata are required")
	}

	docText := documentText(req.Meta)
	var example *FewShotExample
	if e.examples != nil {
		var err error
		example, err = e.examples.FewShot(ctx, req.Schema.Name, docText)
		if err != nil {
			slog.Warn("few-shot lookup failed, running zero-shot", "err", err)
			example = nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.provider.Chat(runCtx, e.prompts.System(req.Schema, example), e.prompts.User(req.Meta))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Result{Status: StatusError, Message: "extraction timed out"}, nil
		}
		return &Result{Status: StatusError, Message: err.Error()}, nil
	}

	data, err := ParseResult(reply)
	if err != nil {
		return &Result{Status: StatusError, Message: err.Error()}, nil
	}

	result := &Result{Status: StatusSuccess, Data: data}
	result.LineageErrors = ValidateLineage(data, req.Meta.Kind, req.Meta.BlockIDs())
	result.MissingFields = ValidateRequired(data, req.Schema.Required())
	result.UnsourcedPaths = ValidateSourceCompleteness(data)
	if len(result.LineageErrors) > 0 || len(result.MissingFields) > 0 || len(result.UnsourcedPaths) > 0 {
		result.Status = StatusReviewRequired
	}
	return result, nil
}

func documentText(meta *content.Metadata) string {
	var parts []string
	for _, group := range meta.Lines() {
		parts = append(parts, strings.Join(group, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// BatchExecutor fans Execute over many requests with bounded concurrency.
type BatchExecutor struct {
	exec          *Executor
	maxConcurrent int
}

func NewBatchExecutor(exec *Executor, maxConcurrent int) *BatchExecutor {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &BatchExecutor{exec: exec, maxConcurrent: maxConcurrent}
}

// ExecuteAll preserves request order in its results. Individual failures are
// recorded in the corresponding slot, never aborting the batch.
func (b *BatchExecutor) ExecuteAll(ctx context.Context, reqs []Request) []*Result {
	results := make([]*Result, len(reqs))
	sem := make(chan struct{}, b.maxConcurrent)
	done := make(chan int)

	for i, req := range reqs {
		go func(i int, req Request) {
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := b.exec.Execute(ctx, req)
			if err != nil {
				res = &Result{Status: StatusError, Message: err.Error()}
			}
			results[i] = res
			done <- i
		}(i, req)
	}
	for range reqs {
		<-done
	}
	return results
}
