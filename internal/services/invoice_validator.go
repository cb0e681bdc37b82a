package services

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field    string  `json:"field"`
	Code     string  `json:"code"`
	Expected float64 `json:"expected,omitempty"`
	Actual   float64 `json:"actual,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// ValidationWarning represents a non-critical issue
type ValidationWarning struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ComputedValues holds calculated/expected values
type ComputedValues struct {
	ExpectedTotal float64 `json:"expected_total"`
	ImpliedRate   float64 `json:"implied_rate"`
}

// ValidationResult is the response from validation
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	NeedsReview bool                `json:"needs_review"`
	Errors      []ValidationError   `json:"errors"`
	Warnings    []ValidationWarning `json:"warnings"`
	Computed    ComputedValues      `json:"computed"`
}

// InvoiceValidator cross-checks the extracted fields of a Chinese VAT
// invoice: amount arithmetic, tax rate plausibility, document number shapes
// and taxpayer ID checksums.
type InvoiceValidator struct {
	tolerance float64 // relative tolerance on amount checks (0.01 = 1%)
}

// NewInvoiceValidator creates a validator with a 1% amount tolerance
func NewInvoiceValidator() *InvoiceValidator {
	return &InvoiceValidator{tolerance: 0.01}
}

// Statutory VAT rates currently in force.
var vatRates = []float64{0.13, 0.09, 0.06, 0.03, 0.01}

var (
	invoiceNumberRe = regexp.MustCompile(`^[0-9]{8}$|^[0-9]{20}$`)
	invoiceCodeRe   = regexp.MustCompile(`^[0-9]{10}$|^[0-9]{12}$`)
	legacyTaxIDRe   = regexp.MustCompile(`^[0-9]{15}$`)
)

// Validate performs all cross-validations on the extracted field map. Fields
// use the canonical extraction keys (invoice_number, amount, tax_amount,
// total_with_tax, buyer_tax_id, ...).
func (v *InvoiceValidator) Validate(fields map[string]string) *ValidationResult {
	result := &ValidationResult{
		Valid:       true,
		NeedsReview: false,
		Errors:      []ValidationError{},
		Warnings:    []ValidationWarning{},
	}

	amount, hasAmount := parseAmount(fields["amount"])
	tax, hasTax := parseAmount(fields["tax_amount"])
	total, hasTotal := parseAmount(fields["total_with_tax"])

	// 1. Total must equal amount plus tax
	if hasAmount && hasTax && hasTotal {
		expected := amount + tax
		result.Computed.ExpectedTotal = round2(expected)
		if math.Abs(total-expected) > math.Max(expected*v.tolerance, 0.01) {
			result.Errors = append(result.Errors, ValidationError{
				Field:    "total_with_tax",
				Code:     "total_mismatch",
				Expected: round2(expected),
				Actual:   round2(total),
				Message:  "total does not equal amount plus tax",
			})
		}
	}

	// 2. Implied tax rate should be a statutory one
	if hasAmount && hasTax && amount > 0 {
		rate := tax / amount
		result.Computed.ImpliedRate = round2(rate)
		if !plausibleRate(rate, v.tolerance) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "tax_amount",
				Code:    "rate_unexpected",
				Message: fmt.Sprintf("implied tax rate %.2f%% matches no statutory rate", rate*100),
			})
		}
	}

	// 3. Document number shapes
	v.validateNumber(fields["invoice_number"], result)
	v.validateCode(fields["invoice_code"], result)

	// 4. Taxpayer IDs
	v.validateTaxID("buyer_tax_id", fields["buyer_tax_id"], result)
	v.validateTaxID("seller_tax_id", fields["seller_tax_id"], result)

	// 5. Issue date must parse and not lie in the future
	v.validateDate(fields["issue_date"], result)

	result.Valid = len(result.Errors) == 0
	result.NeedsReview = len(result.Errors) > 0 || len(result.Warnings) > 0
	return result
}

// validateNumber checks the invoice number shape: 8 digits for legacy paper
// invoices, 20 for fully digitalized ones.
func (v *InvoiceValidator) validateNumber(number string, result *ValidationResult) {
	if number == "" {
		return
	}
	if !invoiceNumberRe.MatchString(number) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "invoice_number",
			Code:    "number_invalid_format",
			Message: "invoice number must be 8 or 20 digits",
		})
	}
}

// validateCode checks the invoice code: 10 or 12 digits. Fully digitalized
// invoices carry no code, so empty is fine.
func (v *InvoiceValidator) validateCode(code string, result *ValidationResult) {
	if code == "" {
		return
	}
	if !invoiceCodeRe.MatchString(code) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "invoice_code",
			Code:    "code_invalid_format",
			Message: "invoice code should be 10 or 12 digits",
		})
	}
}

// uscc alphabet per GB 32100-2015; I, O, S, V, Z are excluded.
const usccAlphabet = "0123456789ABCDEFGHJKLMNPQRTUWXY"

// validateTaxID accepts a 15-digit legacy registration number or an 18-char
// unified social credit code with a valid check character.
func (v *InvoiceValidator) validateTaxID(field, id string, result *ValidationResult) {
	if id == "" {
		return
	}
	id = strings.ToUpper(strings.TrimSpace(id))

	if legacyTaxIDRe.MatchString(id) {
		return
	}
	if len(id) == 18 {
		if usccChecksumValid(id) {
			return
		}
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   field,
			Code:    "tax_id_bad_checksum",
			Message: "unified social credit code fails its checksum",
		})
		return
	}

	result.Warnings = append(result.Warnings, ValidationWarning{
		Field:   field,
		Code:    "tax_id_invalid_format",
		Message: "taxpayer ID must be 15 digits or an 18-char credit code",
	})
}

// usccChecksumValid applies the mod-31 check of GB 32100-2015: weights are
// 3^i mod 31 over the first 17 characters.
func usccChecksumValid(id string) bool {
	sum := 0
	weight := 1
	for i := 0; i < 17; i++ {
		idx := strings.IndexByte(usccAlphabet, id[i])
		if idx < 0 {
			return false
		}
		sum += idx * weight
		weight = weight * 3 % 31
	}
	check := (31 - sum%31) % 31
	return id[17] == usccAlphabet[check]
}

func (v *InvoiceValidator) validateDate(date string, result *ValidationResult) {
	if date == "" {
		return
	}
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "issue_date",
			Code:    "date_unparseable",
			Message: "issue date is not YYYY-MM-DD",
		})
		return
	}
	if parsed.After(time.Now().AddDate(0, 0, 1)) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "issue_date",
			Code:    "date_in_future",
			Message: "issue date lies in the future",
		})
	}
}

var amountCleaner = strings.NewReplacer("¥", "", "￥", "", ",", "", " ", "")

func parseAmount(s string) (float64, bool) {
	s = amountCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

func plausibleRate(rate, tolerance float64) bool {
	for _, r := range vatRates {
		if math.Abs(rate-r) <= math.Max(r*tolerance, 0.005) {
			return true
		}
	}
	// Zero-rated or exempt lines show up as a zero tax amount.
	return rate == 0
}

// round2 rounds to 2 decimal places
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
