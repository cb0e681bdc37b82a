package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/shopspring/decimal"
)

// Extraction is the LLM pipeline's output for one invoice.
type Extraction struct {
	Fields      map[string]string `json:"fields"`
	Confidence  float64           `json:"confidence"`
	RawResponse string            `json:"-"`
	Duration    float64           `json:"duration_seconds"`
}

// Extractor runs invoice field extraction through an LLM provider. Text mode
// sends the normalized block lines; vision mode sends page images and
// requires a provider with vision support.
type Extractor struct {
	provider Provider
}

func NewExtractor(provider Provider) *Extractor {
	return &Extractor{provider: provider}
}

// SupportsVision reports whether the underlying provider accepts image input.
func (e *Extractor) SupportsVision() bool {
	return e.provider.SupportsVision()
}

const extractionSystemPrompt = `You are an expert at reading Chinese VAT invoices (增值税发票) and general invoices.
Read the document carefully and extract the fields below.

Rules:
1. Copy values exactly as printed. Never invent or compute values.
2. Amounts are plain decimal numbers without currency symbols or thousands separators.
3. Dates use YYYY-MM-DD. Convert 2024年1月5日 to 2024-01-05.
4. The buyer (购买方) pays; the seller (销售方) issues the invoice. Never swap them.
5. item_name is the name of the first goods/service line, without the *category* prefix.
6. Use null for anything you cannot read.

Return ONLY valid JSON, no markdown, no commentary:
{
  "invoice_number": "发票号码",
  "invoice_code": "发票代码 or null",
  "issue_date": "YYYY-MM-DD",
  "total_with_tax": "价税合计",
  "amount": "不含税金额",
  "tax_amount": "税额",
  "buyer_name": "购买方名称",
  "buyer_tax_id": "购买方纳税人识别号",
  "seller_name": "销售方名称",
  "seller_tax_id": "销售方纳税人识别号",
  "item_name": "货物或应税劳务、服务名称"
}`

// ExtractText runs text-mode extraction over the normalized document text.
func (e *Extractor) ExtractText(ctx context.Context, documentText string) (*Extraction, error) {
	start := time.Now()
	user := "Invoice content:\n\n" + documentText
	response, err := e.provider.Chat(ctx, extractionSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}
	return e.parse(response, time.Since(start).Seconds())
}

// ExtractVision runs vision-mode extraction over rendered page images.
func (e *Extractor) ExtractVision(ctx context.Context, images [][]byte) (*Extraction, error) {
	if !e.provider.SupportsVision() {
		return nil, fmt.Errorf("provider %s does not support vision input", e.provider.Name())
	}
	start := time.Now()
	response, err := e.provider.ChatVision(ctx, extractionSystemPrompt,
		"Extract the invoice fields from these pages.", images)
	if err != nil {
		return nil, fmt.Errorf("llm vision extraction: %w", err)
	}
	return e.parse(response, time.Since(start).Seconds())
}

func (e *Extractor) parse(response string, duration float64) (*Extraction, error) {
	raw, err := DecodeJSONReply(response)
	if err != nil {
		return nil, fmt.Errorf("parse llm response: %w", err)
	}

	fields := map[string]string{}
	for key, v := range raw {
		value := stringify(key, v)
		if value != "" {
			fields[key] = value
		}
	}
	ext := &Extraction{
		Fields:      fields,
		RawResponse: response,
		Duration:    duration,
	}
	ext.Confidence = confidence(fields)
	return ext, nil
}

// DecodeJSONReply recovers a JSON object from an LLM reply: markdown fences
// are stripped, and anything still unparseable goes through json-repair
// before the final decode.
func DecodeJSONReply(response string) (map[string]any, error) {
	cleaned := stripFences(response)
	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err == nil {
		return raw, nil
	}
	repaired, err := jsonrepair.RepairJSON(cleaned)
	if err != nil {
		return nil, fmt.Errorf("repair json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return nil, fmt.Errorf("decode repaired json: %w", err)
	}
	return raw, nil
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

func stripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	s = strings.TrimSpace(s)
	// Fall back to the outermost brace pair.
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}

var numericFields = map[string]bool{
	"total_with_tax": true,
	"amount":         true,
	"tax_amount":     true,
}

// stringify renders a decoded JSON value as a field string. Numeric fields
// go through decimal so 10600.0 and "10,600.00" normalize the same way.
func stringify(key string, v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if strings.EqualFold(s, "null") {
			return ""
		}
		if numericFields[key] && s != "" {
			if d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "")); err == nil {
				return d.String()
			}
		}
		return s
	case float64:
		return decimal.NewFromFloat(val).String()
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

// confidence scores how complete and self-consistent the extraction is.
// Identity and amount fields carry most of the weight; a consistency bonus
// applies when total equals amount plus tax.
func confidence(fields map[string]string) float64 {
	var score float64
	weighted := map[string]float64{
		"invoice_number": 0.15,
		"issue_date":     0.10,
		"total_with_tax": 0.15,
		"buyer_name":     0.10,
		"seller_name":    0.10,
		"buyer_tax_id":   0.10,
		"seller_tax_id":  0.10,
		"item_name":      0.10,
	}
	for field, w := range weighted {
		if fields[field] != "" {
			score += w
		}
	}

	total, errT := decimal.NewFromString(fields["total_with_tax"])
	amount, errA := decimal.NewFromString(fields["amount"])
	tax, errX := decimal.NewFromString(fields["tax_amount"])
	if errT == nil && errA == nil && errX == nil && total.Equal(amount.Add(tax)) {
		score += 0.10
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
