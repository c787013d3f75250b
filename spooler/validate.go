package spooler

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Tolerance is the largest difference accepted between a stated amount and
// the amount computed from its parts. The boundary is inclusive.
var Tolerance = decimal.RequireFromString("0.02")

var (
	ncmRe  = regexp.MustCompile(`^\d{8}$`)
	cfopRe = regexp.MustCompile(`^\d{4}$`)
)

// ValidationReport separates blocking errors from soft warnings. The kind of
// each entry is kept so the report can be turned into a taxonomy error.
type ValidationReport struct {
	Errors   []string
	Warnings []string

	errKinds  []Kind
	warnKinds []Kind
}

func (r *ValidationReport) addError(kind Kind, format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.errKinds = append(r.errKinds, kind)
}

func (r *ValidationReport) addWarning(kind Kind, format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	r.warnKinds = append(r.warnKinds, kind)
}

func (r ValidationReport) IsValid() bool { return len(r.Errors) == 0 }

// Err returns nil when the report does not block acceptance. Otherwise it
// wraps the sentinel of the first blocking entry and lists every message.
// With strict set, warnings block too.
func (r ValidationReport) Err(strict bool) error {
	if len(r.Errors) > 0 {
		return fmt.Errorf("%w: %s", sentinelFor(r.errKinds[0]), strings.Join(r.Errors, "; "))
	}
	if strict && len(r.Warnings) > 0 {
		return fmt.Errorf("%w: strict mode: %s", sentinelFor(r.warnKinds[0]), strings.Join(r.Warnings, "; "))
	}
	return nil
}

// Validator checks extracted documents. Strict makes warnings blocking in
// Check.
type Validator struct {
	Strict bool
}

// Check validates doc and returns the report together with the error that
// blocks acceptance under the validator's own mode, or nil.
func (v Validator) Check(doc *FiscalDocument) (ValidationReport, error) {
	r := v.Validate(doc)
	return r, r.Err(v.Strict)
}

func (v Validator) Validate(doc *FiscalDocument) ValidationReport {
	var r ValidationReport
	if doc == nil {
		r.addError(KindMissingRequiredField, "document is empty")
		return r
	}

	switch {
	case doc.Number == "":
		r.addError(KindMissingRequiredField, "document number is missing")
	case !isDigits(doc.Number):
		r.addError(KindInvalidField, "document number %q is not numeric", doc.Number)
	}

	switch {
	case doc.IssueDate == "":
		r.addError(KindMissingRequiredField, "issue date is missing")
	default:
		if _, err := time.Parse("2006-01-02", doc.IssueDate); err != nil {
			r.addError(KindInvalidField, "issue date %q is not YYYY-MM-DD", doc.IssueDate)
		}
	}

	switch {
	case doc.AccessKey == "":
		r.addError(KindMissingRequiredField, "access key is missing")
	case !accessKeyRe.MatchString(doc.AccessKey):
		r.addError(KindInvalidField, "access key %q must have 44 digits", doc.AccessKey)
	}

	if doc.Issuer.TaxID == "" {
		r.addError(KindMissingRequiredField, "issuer CNPJ/CPF is missing")
	} else {
		checkTaxID(&r, "issuer", doc.Issuer)
	}
	if doc.Recipient.TaxID != "" {
		checkTaxID(&r, "recipient", doc.Recipient)
	}

	name := strings.TrimSpace(doc.Issuer.LegalName)
	switch {
	case name == "":
		r.addError(KindMissingRequiredField, "issuer legal name is missing")
	case utf8.RuneCountInString(name) < 3:
		r.addError(KindInvalidField, "issuer legal name %q is shorter than 3 characters", name)
	}

	if len(doc.Items) == 0 {
		r.addError(KindMissingRequiredField, "document has no line items")
	}

	for _, issue := range doc.ParseIssues {
		r.addError(KindInvalidField, "%s", issue)
	}

	checkItems(&r, doc.Items)
	checkTotals(&r, doc)
	checkClassification(&r, doc)
	checkCompleteness(&r, doc)

	return r
}

func checkTaxID(r *ValidationReport, role string, p Party) {
	kind := p.TaxIDKind
	if kind == TaxIDNone {
		switch len(p.TaxID) {
		case 14:
			kind = TaxIDCNPJ
		case 11:
			kind = TaxIDCPF
		}
	}
	switch kind {
	case TaxIDCNPJ:
		if !cnpjRe.MatchString(p.TaxID) {
			r.addError(KindInvalidField, "%s CNPJ %q must have 14 digits", role, p.TaxID)
		} else if !ValidCNPJ(p.TaxID) {
			r.addError(KindChecksumFailure, "%s CNPJ %q has invalid check digits", role, p.TaxID)
		}
	case TaxIDCPF:
		if !cpfRe.MatchString(p.TaxID) {
			r.addError(KindInvalidField, "%s CPF %q must have 11 digits", role, p.TaxID)
		} else if !ValidCPF(p.TaxID) {
			r.addError(KindChecksumFailure, "%s CPF %q has invalid check digits", role, p.TaxID)
		}
	default:
		r.addError(KindInvalidField, "%s tax id %q is neither a CNPJ nor a CPF", role, p.TaxID)
	}
}

func checkItems(r *ValidationReport, items []LineItem) {
	for _, it := range items {
		if !it.Quantity.IsPositive() {
			r.addError(KindInvalidField, "item %d: quantity %s must be positive", it.LineNumber, it.Quantity)
		}
		if !it.UnitPrice.IsPositive() {
			r.addError(KindInvalidField, "item %d: unit price %s must be positive", it.LineNumber, it.UnitPrice)
		}
		if !it.LineTotal.IsPositive() {
			r.addError(KindInvalidField, "item %d: line total %s must be positive", it.LineNumber, it.LineTotal)
		}
		computed := it.Quantity.Mul(it.UnitPrice)
		if exceedsTolerance(it.LineTotal, computed) {
			r.addWarning(KindMonetaryInconsistency, "item %d: line total %s differs from quantity x unit price %s",
				it.LineNumber, it.LineTotal.StringFixed(2), computed.StringFixed(2))
		}
		if strings.TrimSpace(it.ProductCode) == "" {
			r.addWarning(KindMissingRequiredField, "item %d: product code is missing", it.LineNumber)
		}
		if it.NCMCode != "" && !ncmRe.MatchString(it.NCMCode) {
			r.addWarning(KindInvalidField, "item %d: NCM %q must have 8 digits", it.LineNumber, it.NCMCode)
		}
		if it.CFOPCode != "" && !cfopRe.MatchString(it.CFOPCode) {
			r.addWarning(KindInvalidField, "item %d: CFOP %q must have 4 digits", it.LineNumber, it.CFOPCode)
		}
	}
}

// ComputedTotal is productsTotal - discount + freight + otherExpenses.
func ComputedTotal(doc *FiscalDocument) decimal.Decimal {
	return doc.ProductsTotal.Sub(doc.Discount).Add(doc.Freight).Add(doc.OtherExpenses)
}

func checkTotals(r *ValidationReport, doc *FiscalDocument) {
	if !doc.GrandTotal.IsPositive() {
		r.addWarning(KindMonetaryInconsistency, "grand total %s is not positive", doc.GrandTotal.StringFixed(2))
	}
	if doc.Discount.IsNegative() {
		r.addWarning(KindMonetaryInconsistency, "discount %s is negative", doc.Discount.StringFixed(2))
	}
	computed := ComputedTotal(doc)
	if exceedsTolerance(doc.GrandTotal, computed) {
		r.addWarning(KindMonetaryInconsistency, "grand total %s differs from computed total %s",
			doc.GrandTotal.StringFixed(2), computed.StringFixed(2))
	}
	if len(doc.Items) > 0 {
		sum := decimal.Zero
		for _, it := range doc.Items {
			sum = sum.Add(it.LineTotal)
		}
		if exceedsTolerance(doc.ProductsTotal, sum) {
			r.addWarning(KindMonetaryInconsistency, "products total %s differs from sum of line totals %s",
				doc.ProductsTotal.StringFixed(2), sum.StringFixed(2))
		}
	}
}

func checkClassification(r *ValidationReport, doc *FiscalDocument) {
	if doc.DocumentType == DocUnknown || doc.DocumentType == "" {
		r.addWarning(KindInvalidField, "unrecognized document type")
	}
	if doc.Model != "" && !KnownModel(doc.Model) {
		r.addWarning(KindInvalidField, "unrecognized model %q", doc.Model)
	}
	if doc.OperationType != "" && NormalizeOperationType(doc.OperationType) == "unknown" {
		r.addWarning(KindInvalidField, "unrecognized operation type %q", doc.OperationType)
	}
}

func checkCompleteness(r *ValidationReport, doc *FiscalDocument) {
	if strings.TrimSpace(doc.Issuer.StateRegistration) == "" {
		r.addWarning(KindMissingRequiredField, "issuer state registration is missing")
	}
	if strings.TrimSpace(doc.Issuer.Address.State) == "" {
		r.addWarning(KindMissingRequiredField, "issuer state is missing")
	}
	if strings.TrimSpace(doc.Issuer.Address.City) == "" {
		r.addWarning(KindMissingRequiredField, "issuer city is missing")
	}
	if doc.Recipient.TaxID != "" && strings.TrimSpace(doc.Recipient.LegalName) == "" {
		r.addWarning(KindMissingRequiredField, "recipient name is missing")
	}
}

func exceedsTolerance(stated, computed decimal.Decimal) bool {
	return stated.Sub(computed).Abs().GreaterThan(Tolerance)
}
