package spooler

import (
	"time"

	"github.com/shopspring/decimal"
)

type DocumentType string

const (
	DocInvoice55       DocumentType = "Invoice55" // NFe
	DocInvoice65       DocumentType = "Invoice65" // NFCe
	DocTransport       DocumentType = "Transport" // CTe
	DocManifestFreight DocumentType = "ManifestFreight"
	DocUnknown         DocumentType = "Unknown"
)

// ProcessingStatus is the ERP-integration flag. It is independent of the
// ingestion result.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusIntegrated ProcessingStatus = "integrated"
)

type TaxIDKind string

const (
	TaxIDNone TaxIDKind = ""
	TaxIDCNPJ TaxIDKind = "CNPJ"
	TaxIDCPF  TaxIDKind = "CPF"
)

type Address struct {
	Street   string `gorm:"size:200"`
	Number   string `gorm:"size:20"`
	District string `gorm:"size:100"`
	City     string `gorm:"size:100"`
	CityCode string `gorm:"size:10"`
	State    string `gorm:"size:2"`
	Zip      string `gorm:"size:10"`
}

type Party struct {
	TaxID             string    `gorm:"size:14;index"`
	TaxIDKind         TaxIDKind `gorm:"size:4"`
	LegalName         string    `gorm:"size:200"`
	TradeName         string    `gorm:"size:200"`
	StateRegistration string    `gorm:"size:20"`
	Address           Address   `gorm:"embedded;embeddedPrefix:addr_"`
}

type TaxTotals struct {
	ICMSBase    decimal.Decimal `gorm:"type:decimal(15,2)"`
	ICMS        decimal.Decimal `gorm:"column:icms;type:decimal(15,2)"`
	ICMSST      decimal.Decimal `gorm:"column:icms_st;type:decimal(15,2)"`
	IPI         decimal.Decimal `gorm:"column:ipi;type:decimal(15,2)"`
	PIS         decimal.Decimal `gorm:"column:pis;type:decimal(15,2)"`
	COFINS      decimal.Decimal `gorm:"column:cofins;type:decimal(15,2)"`
	ImportTax   decimal.Decimal `gorm:"type:decimal(15,2)"`
	Approximate decimal.Decimal `gorm:"type:decimal(15,2)"`
}

// FiscalDocument is one accepted invoice. Rows are written once by the
// pipeline; only the integration fields change afterwards.
type FiscalDocument struct {
	ID           uint         `gorm:"primaryKey"`
	AccessKey    string       `gorm:"uniqueIndex;size:44"`
	ContentHash  string       `gorm:"uniqueIndex;size:64"`
	DocumentType DocumentType `gorm:"index;size:20"`
	Model        string       `gorm:"size:4"`
	Number       string       `gorm:"index;size:20"`
	Series       string       `gorm:"size:10"`
	Version      string       `gorm:"size:10"`
	SourcePath   string       `gorm:"size:1024"`

	IssueDate       string `gorm:"index;size:32"`
	ExitDate        string `gorm:"size:32"`
	OperationNature string `gorm:"size:200"`
	OperationType   string `gorm:"size:2"`
	Purpose         string `gorm:"size:2"`

	Issuer    Party `gorm:"embedded;embeddedPrefix:issuer_"`
	Recipient Party `gorm:"embedded;embeddedPrefix:recipient_"`

	ProductsTotal decimal.Decimal `gorm:"type:decimal(15,2)"`
	Freight       decimal.Decimal `gorm:"type:decimal(15,2)"`
	Insurance     decimal.Decimal `gorm:"type:decimal(15,2)"`
	Discount      decimal.Decimal `gorm:"type:decimal(15,2)"`
	OtherExpenses decimal.Decimal `gorm:"type:decimal(15,2)"`
	GrandTotal    decimal.Decimal `gorm:"type:decimal(15,2)"`
	Taxes         TaxTotals       `gorm:"embedded;embeddedPrefix:tax_"`

	Items []LineItem `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`

	FreightMode  string `gorm:"size:2"`
	CarrierTaxID string `gorm:"size:14"`
	CarrierName  string `gorm:"size:200"`
	CarrierState string `gorm:"size:2"`

	Protocol       string `gorm:"size:50"`
	AuthorizedAt   string `gorm:"size:40"`
	AdditionalInfo string `gorm:"type:text"`

	// FlatFields is a JSON object of leaf XML paths to text.
	FlatFields string `gorm:"type:text"`

	ProcessingStatus ProcessingStatus `gorm:"index;size:16;default:pending"`
	IntegratedAt     *time.Time
	IntegratedBy     string `gorm:"size:100"`
	IntegrationNotes string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time

	// ParseIssues lists fields whose text could not be read as a value of the
	// expected type. They are validation errors, never persisted.
	ParseIssues []string `gorm:"-"`
}

func (FiscalDocument) TableName() string { return "fiscal_documents" }

type LineItem struct {
	ID          uint            `gorm:"primaryKey"`
	DocumentID  uint            `gorm:"index"`
	Position    int             `gorm:"index"`
	LineNumber  int
	ProductCode string          `gorm:"size:60"`
	Description string          `gorm:"size:500"`
	NCMCode     string          `gorm:"column:ncm_code;size:8"`
	CFOPCode    string          `gorm:"column:cfop_code;size:4"`
	Unit        string          `gorm:"size:6"`
	Quantity    decimal.Decimal `gorm:"type:decimal(15,4)"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(21,10)"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(15,2)"`
}

func (LineItem) TableName() string { return "fiscal_document_items" }

type OutcomeResult string

const (
	ResultSuccess OutcomeResult = "success"
	ResultFailure OutcomeResult = "failure"
)

// IngestionOutcome is written once per file-processing attempt, whatever the
// result.
type IngestionOutcome struct {
	ID          uint          `gorm:"primaryKey"`
	BatchID     string        `gorm:"index;size:36"`
	Timestamp   time.Time     `gorm:"index"`
	SourcePath  string        `gorm:"size:1024"`
	Result      OutcomeResult `gorm:"index;size:16"`
	Kind        Kind          `gorm:"index;size:32"`
	Cause       string        `gorm:"type:text"`
	ContentHash string        `gorm:"index;size:64"`
	AccessKey   string        `gorm:"size:44"`
	SizeBytes   int64
	DocumentID  *uint

	MovedTo  string   `gorm:"-"`
	Warnings []string `gorm:"-"`
}

func (IngestionOutcome) TableName() string { return "ingestion_outcomes" }

func (o IngestionOutcome) Succeeded() bool { return o.Result == ResultSuccess }
