package digiflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digiflow/invoice-digitization-service/internal/content"
)

// stubProvider replays a canned reply and records the prompts it saw.
type stubProvider struct {
	reply      string
	err        error
	lastSystem string
	lastUser   string
}

func (s *stubProvider) Name() string         { return "stub" }
func (s *stubProvider) SupportsVision() bool { return false }

func (s *stubProvider) Chat(ctx context.Context, system, user string) (string, error) {
	s.lastSystem, s.lastUser = system, user
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubProvider) ChatVision(ctx context.Context, system, user string, images [][]byte) (string, error) {
	return s.Chat(ctx, system, user)
}

func (s *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

func testMeta() *content.Metadata {
	return &content.Metadata{
		Kind: content.KindPDF,
		Pages: []content.Page{{
			ID: 1, Width: 612, Height: 792,
			Boxes: []content.BoundingBox{
				{ID: "1.1.1:1:1", RawValue: "发票号码：123", Row: 1, Col: 1, Idx: 1},
				{ID: "1.1.2:1:1", RawValue: "价税合计：10600.00", Row: 2, Col: 1, Idx: 1},
			},
		}},
	}
}

func testSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := CompileSchema("invoice", `{
		"type": "object",
		"required": ["invoice_number"],
		"properties": {"invoice_number": {"type": "string"}}
	}`)
	require.NoError(t, err)
	return schema
}

func TestExecuteSuccess(t *testing.T) {
	provider := &stubProvider{
		reply: `{"invoice_number": {"value": "123", "data_source": {"block_id": "1.1.1:1:1"}}}`,
	}
	exec := NewExecutor(provider, nil, time.Minute)

	res, err := exec.Execute(context.Background(), Request{Schema: testSchema(t), Meta: testMeta()})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.LineageErrors)
	assert.Empty(t, res.MissingFields)

	assert.Contains(t, provider.lastSystem, "Source Mapping Protocol")
	assert.Contains(t, provider.lastUser, "[1.1.1:1:1] 发票号码：123")
}

// stubExamples records the schema names it was asked about.
type stubExamples struct {
	schemas []string
	example *FewShotExample
}

func (s *stubExamples) FewShot(_ context.Context, schemaName, _ string) (*FewShotExample, error) {
	s.schemas = append(s.schemas, schemaName)
	return s.example, nil
}

func TestExecuteResolvesExamplesPerSchema(t *testing.T) {
	provider := &stubProvider{
		reply: `{"invoice_number": {"value": "123", "data_source": {"block_id": "1.1.1:1:1"}}}`,
	}
	examples := &stubExamples{}
	exec := NewExecutor(provider, examples, time.Minute)

	receipt, err := CompileSchema("receipt", `{"type": "object", "properties": {}}`)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), Request{Schema: testSchema(t), Meta: testMeta()})
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), Request{Schema: receipt, Meta: testMeta()})
	require.NoError(t, err)

	// Each run looks up examples under its own schema's pool.
	assert.Equal(t, []string{"invoice", "receipt"}, examples.schemas)
}

func TestExecuteReviewOnLineageError(t *testing.T) {
	provider := &stubProvider{
		reply: `{"invoice_number": {"value": "123", "data_source": {"block_id": "1.1.9:9:9"}}}`,
	}
	exec := NewExecutor(provider, nil, time.Minute)

	res, err := exec.Execute(context.Background(), Request{Schema: testSchema(t), Meta: testMeta()})
	require.NoError(t, err)
	assert.Equal(t, StatusReviewRequired, res.Status)
	require.Len(t, res.LineageErrors, 1)
	assert.NotNil(t, res.Data, "review keeps the parsed data")
}

func TestExecuteReviewOnMissingRequired(t *testing.T) {
	provider := &stubProvider{
		reply: `{"other": {"value": "x", "data_source": {"block_id": "1.1.1:1:1"}}}`,
	}
	exec := NewExecutor(provider, nil, time.Minute)

	res, err := exec.Execute(context.Background(), Request{Schema: testSchema(t), Meta: testMeta()})
	require.NoError(t, err)
	assert.Equal(t, StatusReviewRequired, res.Status)
	assert.Equal(t, []string{"invoice_number"}, res.MissingFields)
}

func TestExecuteReviewOnUnsourcedValue(t *testing.T) {
	provider := &stubProvider{reply: `{"invoice_number": "123"}`}
	exec := NewExecutor(provider, nil, time.Minute)

	res, err := exec.Execute(context.Background(), Request{Schema: testSchema(t), Meta: testMeta()})
	require.NoError(t, err)
	assert.Equal(t, StatusReviewRequired, res.Status)
	assert.Equal(t, []string{"invoice_number"}, res.UnsourcedPaths)
}

func TestExecuteTimeoutIsErrorStatus(t *testing.T) {
	provider := &stubProvider{err: context.DeadlineExceeded}
	exec := NewExecutor(provider, nil, time.Minute)

	res, err := exec.Execute(context.Background(), Request{Schema: testSchema(t), Meta: testMeta()})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "timed out")
}

func TestExecuteUnparseableReply(t *testing.T) {
	provider := &stubProvider{reply: "I could not process this document."}
	exec := NewExecutor(provider, nil, time.Minute)

	res, err := exec.Execute(context.Background(), Request{Schema: testSchema(t), Meta: testMeta()})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
}

func TestExecuteNilInputs(t *testing.T) {
	exec := NewExecutor(&stubProvider{}, nil, time.Minute)
	_, err := exec.Execute(context.Background(), Request{})
	assert.Error(t, err)
}

func TestBatchExecuteAllPreservesOrder(t *testing.T) {
	provider := &stubProvider{
		reply: `{"invoice_number": {"value": "123", "data_source": {"block_id": "1.1.1:1:1"}}}`,
	}
	batch := NewBatchExecutor(NewExecutor(provider, nil, time.Minute), 2)

	reqs := []Request{
		{Schema: testSchema(t), Meta: testMeta()},
		{}, // invalid, must land in its own slot
		{Schema: testSchema(t), Meta: testMeta()},
	}
	results := batch.ExecuteAll(context.Background(), reqs)
	require.Len(t, results, 3)
	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, StatusError, results[1].Status)
	assert.Equal(t, StatusSuccess, results[2].Status)
}
