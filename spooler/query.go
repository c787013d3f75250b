package spooler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DocumentFilter struct {
	Type           DocumentType
	IssuedFrom     string // YYYY-MM-DD, inclusive
	IssuedTo       string // YYYY-MM-DD, inclusive
	IssuerTaxID    string
	RecipientTaxID string
	Status         ProcessingStatus
	Limit          int
	Offset         int
}

// ListDocuments returns documents by issue date, latest first, without line
// items.
func (s *GormStore) ListDocuments(ctx context.Context, f DocumentFilter) ([]FiscalDocument, error) {
	q := s.db.WithContext(ctx).Model(&FiscalDocument{})
	if f.Type != "" {
		q = q.Where("document_type = ?", f.Type)
	}
	if f.IssuedFrom != "" {
		q = q.Where("issue_date >= ?", f.IssuedFrom)
	}
	if f.IssuedTo != "" {
		q = q.Where("issue_date <= ?", f.IssuedTo)
	}
	if f.IssuerTaxID != "" {
		q = q.Where("issuer_tax_id = ?", f.IssuerTaxID)
	}
	if f.RecipientTaxID != "" {
		q = q.Where("recipient_tax_id = ?", f.RecipientTaxID)
	}
	if f.Status != "" {
		q = q.Where("processing_status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var docs []FiscalDocument
	if err := q.Order("issue_date desc, id desc").Find(&docs).Error; err != nil {
		return nil, wrapDBError("list documents", err)
	}
	return docs, nil
}

// GetDocument loads one document with its line items in source order.
func (s *GormStore) GetDocument(ctx context.Context, id uint) (*FiscalDocument, error) {
	var doc FiscalDocument
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		First(&doc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("get document", err)
	}
	return &doc, nil
}

type OutcomeFilter struct {
	Result  OutcomeResult
	BatchID string
	From    time.Time
	To      time.Time
	Limit   int
}

// ListOutcomes returns outcomes oldest first.
func (s *GormStore) ListOutcomes(ctx context.Context, f OutcomeFilter) ([]IngestionOutcome, error) {
	q := s.db.WithContext(ctx).Model(&IngestionOutcome{})
	if f.Result != "" {
		q = q.Where("result = ?", f.Result)
	}
	if f.BatchID != "" {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	if !f.From.IsZero() {
		q = q.Where("timestamp >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("timestamp <= ?", f.To.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []IngestionOutcome
	if err := q.Order("timestamp asc, id asc").Find(&out).Error; err != nil {
		return nil, wrapDBError("list outcomes", err)
	}
	return out, nil
}

type OutcomeSummary struct {
	Total       int64
	Succeeded   int64
	Failed      int64
	SuccessRate float64
	ByKind      map[Kind]int64
}

func (s *GormStore) OutcomeStats(ctx context.Context) (*OutcomeSummary, error) {
	var rows []struct {
		Result OutcomeResult
		Kind   Kind
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&IngestionOutcome{}).
		Select("result, kind, count(*) as n").
		Group("result, kind").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapDBError("outcome stats", err)
	}
	sum := &OutcomeSummary{ByKind: map[Kind]int64{}}
	for _, r := range rows {
		sum.Total += r.N
		switch r.Result {
		case ResultSuccess:
			sum.Succeeded += r.N
		case ResultFailure:
			sum.Failed += r.N
			sum.ByKind[r.Kind] += r.N
		}
	}
	if sum.Total > 0 {
		sum.SuccessRate = float64(sum.Succeeded) / float64(sum.Total)
	}
	return sum, nil
}

type DocumentSummary struct {
	Count         int64
	ByType        map[DocumentType]int64
	Integrated    int64
	Pending       int64
	ProductsTotal decimal.Decimal
	GrandTotal    decimal.Decimal
	Taxes         TaxTotals
}

// DocumentStats aggregates in Go so money is summed with decimal arithmetic
// rather than SQLite's REAL.
func (s *GormStore) DocumentStats(ctx context.Context) (*DocumentSummary, error) {
	sum := &DocumentSummary{ByType: map[DocumentType]int64{}}
	var batch []FiscalDocument
	err := s.db.WithContext(ctx).Model(&FiscalDocument{}).
		Select("id, document_type, processing_status, products_total, grand_total, " +
			"tax_icms_base, tax_icms, tax_icms_st, tax_ipi, tax_pis, tax_cofins, tax_import_tax, tax_approximate").
		FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
			for _, d := range batch {
				sum.Count++
				sum.ByType[d.DocumentType]++
				if d.ProcessingStatus == StatusIntegrated {
					sum.Integrated++
				} else {
					sum.Pending++
				}
				sum.ProductsTotal = sum.ProductsTotal.Add(d.ProductsTotal)
				sum.GrandTotal = sum.GrandTotal.Add(d.GrandTotal)
				sum.Taxes = addTaxes(sum.Taxes, d.Taxes)
			}
			return nil
		}).Error
	if err != nil {
		return nil, wrapDBError("document stats", err)
	}
	return sum, nil
}

func addTaxes(a, b TaxTotals) TaxTotals {
	return TaxTotals{
		ICMSBase:    a.ICMSBase.Add(b.ICMSBase),
		ICMS:        a.ICMS.Add(b.ICMS),
		ICMSST:      a.ICMSST.Add(b.ICMSST),
		IPI:         a.IPI.Add(b.IPI),
		PIS:         a.PIS.Add(b.PIS),
		COFINS:      a.COFINS.Add(b.COFINS),
		ImportTax:   a.ImportTax.Add(b.ImportTax),
		Approximate: a.Approximate.Add(b.Approximate),
	}
}

// MarkIntegrated flags a document as taken over by the ERP. It is the only
// mutation a stored document ever sees.
func (s *GormStore) MarkIntegrated(ctx context.Context, id uint, user string, notes string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return fmt.Errorf("%w: integration user is empty", ErrMissingRequiredField)
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&FiscalDocument{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_status": StatusIntegrated,
			"integrated_at":     &now,
			"integrated_by":     user,
			"integration_notes": notes,
		})
	if res.Error != nil {
		return wrapDBError("mark integrated", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %d not found", id)
	}
	return nil
}
