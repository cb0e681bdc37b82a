package digiflow

import (
	"fmt"
	"strings"

	"github.com/digiflow/invoice-digitization-service/internal/content"
)

// FewShotExample is one confirmed extraction used to prime the model.
type FewShotExample struct {
	DocumentText string
	ResultJSON   string
}

// PromptEngine renders the system and user prompts of a digitization run.
type PromptEngine struct{}

func NewPromptEngine() *PromptEngine {
	return &PromptEngine{}
}

// System builds the system prompt: the source-mapping protocol, the
// value-vs-label rule, the target schema, and an optional worked example.
func (PromptEngine) System(schema *Schema, example *FewShotExample) string {
	var sb strings.Builder
	sb.WriteString(`You are a document digitization engine. Extract data from the document into the JSON structure described by the schema below.

## Source Mapping Protocol
Every extracted leaf value MUST be an object of the form:
  {"value": <extracted value>, "data_source": {"block_id": "<block id>"}}
The block_id must be copied verbatim from the [block_id] prefix of the line the value was read from. Never fabricate a block id.

## Value vs Label Rule
Extract the VALUE, not the label. For "发票号码: 123456" the value is "123456"; the label text itself is never a value. If a label and its value sit in different blocks, the data_source points at the VALUE's block.

## Output
Return ONLY valid JSON matching the schema, with every leaf wrapped per the protocol. Use null values for fields the document does not contain.

## Target Schema
`)
	sb.WriteString(schema.Raw)
	if example != nil {
		sb.WriteString("\n\n## Example\nDocument:\n")
		sb.WriteString(example.DocumentText)
		sb.WriteString("\nExtraction:\n")
		sb.WriteString(example.ResultJSON)
	}
	return sb.String()
}

// User renders the document as [block_id] lines grouped per page or sheet.
func (PromptEngine) User(meta *content.Metadata) string {
	var sb strings.Builder
	sb.WriteString("Document content:\n")
	for i, group := range meta.Lines() {
		fmt.Fprintf(&sb, "\n=== part %d ===\n", i+1)
		sb.WriteString(strings.Join(group, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}
