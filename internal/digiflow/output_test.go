package digiflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResultNormalizedReply(t *testing.T) {
	reply := "```json\n" + `{
		"invoice_number": {"value": "123", "data_source": {"block_id": "1.1.1:1:1"}}
	}` + "\n```"
	result, err := ParseResult(reply)
	require.NoError(t, err)

	node, ok := result["invoice_number"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "123", node["value"])
	ds, ok := node["data_source"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.1.1:1:1", ds["block_id"])
}

func TestParseResultWrapsBareScalars(t *testing.T) {
	result, err := ParseResult(`{"buyer": "某公司", "total": 10600}`)
	require.NoError(t, err)

	buyer := result["buyer"].(map[string]any)
	assert.Equal(t, "某公司", buyer["value"])
	assert.Nil(t, buyer["data_source"])

	total := result["total"].(map[string]any)
	assert.Equal(t, float64(10600), total["value"])
}

func TestNormalizeResultNested(t *testing.T) {
	in := map[string]any{
		"parties": map[string]any{
			"buyer": map[string]any{"value": "甲", "data_source": map[string]any{"block_id": "1.1.1:1:1"}},
		},
		"items": []any{"服务"},
	}
	out := NormalizeResult(in).(map[string]any)

	parties := out["parties"].(map[string]any)
	buyer := parties["buyer"].(map[string]any)
	assert.Equal(t, "甲", buyer["value"])

	items := out["items"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, "服务", first["value"])
	assert.Nil(t, first["data_source"])
}

func TestStripSources(t *testing.T) {
	in := map[string]any{
		"a": map[string]any{"value": "x", "data_source": map[string]any{"block_id": "1.1.1:1:1"}},
		"nested": map[string]any{
			"b": map[string]any{"value": float64(5), "data_source": nil},
		},
		"list": []any{map[string]any{"value": "y", "data_source": nil}},
	}
	out := StripSources(in).(map[string]any)
	assert.Equal(t, "x", out["a"])
	assert.Equal(t, float64(5), out["nested"].(map[string]any)["b"])
	assert.Equal(t, "y", out["list"].([]any)[0])
}

func TestCompileSchema(t *testing.T) {
	schema, err := CompileSchema("invoice", `{
		"type": "object",
		"required": ["invoice_number"],
		"properties": {"invoice_number": {"type": "string"}}
	}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice_number"}, schema.Required())

	assert.NoError(t, schema.ValidateShape(map[string]any{"invoice_number": "123"}))
	assert.Error(t, schema.ValidateShape(map[string]any{"invoice_number": 5}))
}

func TestCompileSchemaRejectsBadSchema(t *testing.T) {
	_, err := CompileSchema("bad", `{"type": "not-a-type"}`)
	assert.Error(t, err)
}
