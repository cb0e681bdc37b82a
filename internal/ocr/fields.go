package ocr

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Fields is the flat field map produced by rule-based extraction.
type Fields map[string]string

// FieldExtractor pulls invoice fields out of recognized text with anchored
// label patterns. Chinese VAT invoices and English invoices carry different
// label vocabularies, so the extractor picks a pattern set per document.
type FieldExtractor struct{}

func NewFieldExtractor() *FieldExtractor {
	return &FieldExtractor{}
}

var patternsCN = map[string]*regexp.Regexp{
	"invoice_number": regexp.MustCompile(`发票号码[：:]\s*(\d+)`),
	"invoice_code":   regexp.MustCompile(`发票代码[：:]\s*(\d+)`),
	"issue_date":     regexp.MustCompile(`开票日期[：:]\s*(\d{4}年\d{1,2}月\d{1,2}日|\d{4}[-/]\d{1,2}[-/]\d{1,2})`),
	"total_with_tax": regexp.MustCompile(`价税合计[^0-9¥￥]*[（(]?小写[）)]?[：:]?\s*([¥￥]?\s*[\d,]+\.?\d*)`),
	"amount":         regexp.MustCompile(`(?:^|[^税价])金额[：:合计]*\s*([¥￥]?\s*[\d,]+\.?\d*)`),
	"tax_amount":     regexp.MustCompile(`税额[：:合计]*\s*([¥￥]?\s*[\d,]+\.?\d*)`),
	"buyer_name":     regexp.MustCompile(`购\s*买\s*方[^名]*名\s*称[：:]\s*([^\s纳]+)`),
	"buyer_tax_id":   regexp.MustCompile(`购\s*买\s*方[^纳]*纳税人识别号[：:]\s*([0-9A-Z]{15,20})`),
	"seller_name":    regexp.MustCompile(`销\s*售\s*方[^名]*名\s*称[：:]\s*([^\s纳]+)`),
	"seller_tax_id":  regexp.MustCompile(`销\s*售\s*方[^纳]*纳税人识别号[：:]\s*([0-9A-Z]{15,20})`),
	"item_name":      regexp.MustCompile(`\*[^*]+\*\s*([^\s*¥￥]+)`),
}

var patternsEN = map[string]*regexp.Regexp{
	"invoice_number": regexp.MustCompile(`(?i)invoice\s*(?:no|number|#)[.:]?\s*([A-Z0-9-]+)`),
	"issue_date":     regexp.MustCompile(`(?i)(?:invoice\s+)?date[.:]?\s*(\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{1,2}[-/]\d{1,2}[-/]\d{4})`),
	"total_with_tax": regexp.MustCompile(`(?im)^\s*total(?:\s+due|\s+amount)?[.:]?\s*\$?\s*([\d,]+\.?\d*)`),
	"amount":         regexp.MustCompile(`(?i)subtotal[.:]?\s*\$?\s*([\d,]+\.?\d*)`),
	"tax_amount":     regexp.MustCompile(`(?i)(?:tax|vat)[.:]?\s*\$?\s*([\d,]+\.?\d*)`),
	"buyer_name":     regexp.MustCompile(`(?i)bill\s+to[.:]?\s*([^\n]+)`),
	"seller_name":    regexp.MustCompile(`(?i)from[.:]?\s*([^\n]+)`),
}

var chineseKeywords = []string{"发票", "税", "价税合计", "开票日期", "纳税人"}

func isChineseInvoice(text string) bool {
	for _, kw := range chineseKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Extract runs the pattern pass over the full text, then falls back to
// geometric label matching for buyer/seller identity fields the inline pass
// missed. spans may be nil when only raw text is available.
func (e *FieldExtractor) Extract(text string, spans []Span) Fields {
	patterns := patternsEN
	if isChineseInvoice(text) {
		patterns = patternsCN
	}

	fields := Fields{}
	for name, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := cleanValue(name, m[1])
		if value != "" {
			fields[name] = value
		}
	}
	if len(spans) > 0 {
		e.classifyParties(fields, spans)
	}
	return fields
}

var (
	currencyChars = strings.NewReplacer("¥", "", "￥", "", ",", "", " ", "", "$", "")
	cnDate        = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
	slashDate     = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)
	companyName   = regexp.MustCompile(`(有限公司|股份公司|合伙企业|个体工商户|公司)$`)
	taxIDShape    = regexp.MustCompile(`^[0-9A-HJ-NP-RT-UW-Y]{15,20}$`)
	buyerLabel    = regexp.MustCompile(`购\s*买?\s*方?|买方`)
	sellerLabel   = regexp.MustCompile(`销\s*售?\s*方?|卖方`)
)

func cleanValue(field, raw string) string {
	v := strings.TrimSpace(raw)
	switch field {
	case "total_with_tax", "amount", "tax_amount":
		return currencyChars.Replace(v)
	case "issue_date":
		return normalizeDate(v)
	default:
		return strings.Trim(v, "：: ")
	}
}

func normalizeDate(v string) string {
	for _, re := range []*regexp.Regexp{cnDate, slashDate} {
		if m := re.FindStringSubmatch(v); m != nil {
			y, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			d, _ := strconv.Atoi(m[3])
			return fmt.Sprintf("%04d-%02d-%02d", y, mo, d)
		}
	}
	return v
}

// classifyParties resolves buyer/seller names and tax IDs by geometry when
// the inline labels are broken across spans. Company-shaped and tax-ID-shaped
// spans are attributed to whichever party label sits nearest by center
// distance.
func (e *FieldExtractor) classifyParties(fields Fields, spans []Span) {
	var buyerAnchors, sellerAnchors []Span
	for _, s := range spans {
		if buyerLabel.MatchString(s.Text) {
			buyerAnchors = append(buyerAnchors, s)
		}
		if sellerLabel.MatchString(s.Text) {
			sellerAnchors = append(sellerAnchors, s)
		}
	}
	if len(buyerAnchors) == 0 && len(sellerAnchors) == 0 {
		return
	}

	assign := func(nameField, candidate string, s Span) {
		db := nearestDistance(s, buyerAnchors)
		ds := nearestDistance(s, sellerAnchors)
		field := nameField
		if ds < db {
			field = strings.Replace(nameField, "buyer", "seller", 1)
		}
		if fields[field] == "" {
			fields[field] = candidate
		}
	}

	for _, s := range spans {
		text := strings.Trim(strings.TrimSpace(s.Text), "：: ")
		if idx := strings.LastIndexAny(text, "：:"); idx >= 0 {
			_, size := utf8.DecodeRuneInString(text[idx:])
			text = strings.TrimSpace(text[idx+size:])
		}
		if companyName.MatchString(text) && !buyerLabel.MatchString(s.Text) && !sellerLabel.MatchString(s.Text) {
			assign("buyer_name", text, s)
		}
		if taxIDShape.MatchString(text) {
			assign("buyer_tax_id", text, s)
		}
	}
}

func nearestDistance(s Span, anchors []Span) float64 {
	best := math.Inf(1)
	for _, a := range anchors {
		dx := s.CenterX() - a.CenterX()
		dy := s.CenterY() - a.CenterY()
		if d := math.Hypot(dx, dy); d < best {
			best = d
		}
	}
	return best
}
