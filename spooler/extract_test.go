package spooler

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

func TestExtract_FullInvoice(t *testing.T) {
	raw := defaultInvoice(1).Bytes()
	doc, err := Extract(raw)
	if err != nil {
		t.Fatal(err)
	}
	if doc.DocumentType != DocInvoice55 {
		t.Fatalf("expected Invoice55, got %q", doc.DocumentType)
	}
	if doc.AccessKey != testKey(1) {
		t.Fatalf("unexpected access key %q", doc.AccessKey)
	}
	if doc.ContentHash != ContentHash(raw) {
		t.Fatalf("content hash mismatch")
	}
	if doc.Number != "1" || doc.Series != "1" || doc.Model != "55" || doc.Version != "4.00" {
		t.Fatalf("unexpected identity: number=%q series=%q model=%q version=%q", doc.Number, doc.Series, doc.Model, doc.Version)
	}
	if doc.IssueDate != "2024-01-15" {
		t.Fatalf("expected normalized issue date, got %q", doc.IssueDate)
	}
	if doc.Issuer.TaxID != validCNPJ || doc.Issuer.TaxIDKind != TaxIDCNPJ {
		t.Fatalf("unexpected issuer: %+v", doc.Issuer)
	}
	if doc.Issuer.Address.State != "SP" || doc.Issuer.Address.City != "Sao Paulo" || doc.Issuer.StateRegistration != "123456789" {
		t.Fatalf("unexpected issuer details: %+v", doc.Issuer)
	}
	if doc.Recipient.TaxID != validCPF || doc.Recipient.TaxIDKind != TaxIDCPF {
		t.Fatalf("unexpected recipient: %+v", doc.Recipient)
	}

	wantMoney := map[string][2]decimal.Decimal{
		"productsTotal": {doc.ProductsTotal, decimal.RequireFromString("100.00")},
		"freight":       {doc.Freight, decimal.RequireFromString("10.00")},
		"discount":      {doc.Discount, decimal.RequireFromString("5.00")},
		"grandTotal":    {doc.GrandTotal, decimal.RequireFromString("105.00")},
		"icms":          {doc.Taxes.ICMS, decimal.RequireFromString("18.00")},
		"pis":           {doc.Taxes.PIS, decimal.RequireFromString("1.65")},
		"cofins":        {doc.Taxes.COFINS, decimal.RequireFromString("7.60")},
	}
	for name, pair := range wantMoney {
		if !pair[0].Equal(pair[1]) {
			t.Fatalf("%s: got %s want %s", name, pair[0], pair[1])
		}
	}

	if len(doc.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(doc.Items))
	}
	it := doc.Items[0]
	if it.LineNumber != 1 || it.ProductCode != "P001" || it.NCMCode != "12345678" || it.CFOPCode != "5102" || it.Unit != "UN" {
		t.Fatalf("unexpected item: %+v", it)
	}
	if !it.Quantity.Equal(decimal.NewFromInt(2)) || !it.LineTotal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected item amounts: %+v", it)
	}

	if doc.CarrierTaxID != validCNPJ2 || doc.FreightMode != "0" || doc.CarrierState != "SP" {
		t.Fatalf("unexpected transport: mode=%q carrier=%q uf=%q", doc.FreightMode, doc.CarrierTaxID, doc.CarrierState)
	}
	if doc.Protocol != "135240000000001" {
		t.Fatalf("unexpected protocol %q", doc.Protocol)
	}
	if len(doc.ParseIssues) != 0 {
		t.Fatalf("unexpected parse issues: %v", doc.ParseIssues)
	}

	var flat map[string]string
	if err := json.Unmarshal([]byte(doc.FlatFields), &flat); err != nil {
		t.Fatal(err)
	}
	if flat["nfeProc.NFe.infNFe.ide.nNF"] != "1" {
		t.Fatalf("expected flattened nNF, got %v", flat["nfeProc.NFe.infNFe.ide.nNF"])
	}
}

func TestExtract_NamespacedParity(t *testing.T) {
	plain := defaultInvoice(7)
	ns := plain
	ns.Namespaced = true

	a, err := Extract(plain.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Extract(ns.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if a.ContentHash == b.ContentHash {
		t.Fatalf("expected different bytes to hash differently")
	}
	if a.AccessKey != b.AccessKey || a.Number != b.Number || a.IssueDate != b.IssueDate {
		t.Fatalf("identity differs: %q/%q %q/%q %q/%q", a.AccessKey, b.AccessKey, a.Number, b.Number, a.IssueDate, b.IssueDate)
	}
	if a.Issuer != b.Issuer || a.Recipient != b.Recipient {
		t.Fatalf("parties differ:\n%+v\n%+v", a.Issuer, b.Issuer)
	}
	if !a.GrandTotal.Equal(b.GrandTotal) || len(a.Items) != len(b.Items) {
		t.Fatalf("totals differ")
	}
}

func TestExtract_PrefixedNamespace(t *testing.T) {
	raw := []byte(`<nfe:NFe xmlns:nfe="` + NamespaceNFe + `"><nfe:infNFe Id="NFe` + testKey(3) + `"><nfe:ide><nfe:mod>65</nfe:mod><nfe:nNF>42</nfe:nNF></nfe:ide></nfe:infNFe></nfe:NFe>`)
	doc, err := Extract(raw)
	if err != nil {
		t.Fatal(err)
	}
	if doc.DocumentType != DocInvoice65 {
		t.Fatalf("expected Invoice65, got %q", doc.DocumentType)
	}
	if doc.Number != "42" {
		t.Fatalf("expected number 42, got %q", doc.Number)
	}
	if doc.AccessKey != testKey(3) {
		t.Fatalf("expected key from Id, got %q", doc.AccessKey)
	}
}

func TestExtract_AccessKeyFromIDWhenNoProtocol(t *testing.T) {
	f := defaultInvoice(9)
	f.IDOnly = true
	doc, err := Extract(f.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if doc.AccessKey != testKey(9) {
		t.Fatalf("expected key from infNFe@Id, got %q", doc.AccessKey)
	}
	if doc.Protocol != "" {
		t.Fatalf("expected no protocol, got %q", doc.Protocol)
	}
}

func TestExtract_InvalidKeyLeftEmpty(t *testing.T) {
	f := defaultInvoice(1)
	f.IDOnly = true
	f.Key = "123"
	doc, err := Extract(f.Bytes())
	if err != nil {
		t.Fatalf("extraction must not fail on a bad key: %v", err)
	}
	if doc.AccessKey != "" {
		t.Fatalf("expected empty key, got %q", doc.AccessKey)
	}
}

func TestExtract_Malformed(t *testing.T) {
	cases := map[string]string{
		"text":     "this is not xml at all",
		"empty":    "",
		"unclosed": "<nfeProc><NFe>",
		"mismatch": "<a><b></a>",
	}
	for name, in := range cases {
		_, err := Extract([]byte(in))
		if !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("%s: expected ErrMalformedInput, got %v", name, err)
		}
		if KindOf(err) != KindMalformedInput {
			t.Fatalf("%s: unexpected kind %q", name, KindOf(err))
		}
	}
}

func TestExtract_UnknownRootIsBestEffort(t *testing.T) {
	doc, err := Extract([]byte(`<resNFe><ide><nNF>5</nNF></ide></resNFe>`))
	if err != nil {
		t.Fatal(err)
	}
	if doc.DocumentType != DocUnknown {
		t.Fatalf("expected Unknown, got %q", doc.DocumentType)
	}
	if doc.Number != "5" {
		t.Fatalf("expected best-effort number, got %q", doc.Number)
	}
}

func TestExtract_TransportAndManifest(t *testing.T) {
	cte, err := Extract([]byte(`<cteProc xmlns="` + NamespaceCTe + `"><CTe><infCte Id="CTe` + testKey(4) + `"><ide><mod>57</mod><nCT>77</nCT><dhEmi>2024-02-01T08:00:00-03:00</dhEmi></ide><vPrest><vTPrest>350.00</vTPrest></vPrest></infCte></CTe></cteProc>`))
	if err != nil {
		t.Fatal(err)
	}
	if cte.DocumentType != DocTransport || cte.Number != "77" || cte.AccessKey != testKey(4) {
		t.Fatalf("unexpected cte: type=%q number=%q key=%q", cte.DocumentType, cte.Number, cte.AccessKey)
	}
	if !cte.GrandTotal.Equal(decimal.RequireFromString("350")) {
		t.Fatalf("expected vTPrest as grand total, got %s", cte.GrandTotal)
	}

	mdfe, err := Extract([]byte(`<mdfeProc><MDFe><infMDFe Id="MDFe` + testKey(5) + `"><ide><nMDF>3</nMDF></ide></infMDFe></MDFe></mdfeProc>`))
	if err != nil {
		t.Fatal(err)
	}
	if mdfe.DocumentType != DocManifestFreight || mdfe.AccessKey != testKey(5) {
		t.Fatalf("unexpected mdfe: type=%q key=%q", mdfe.DocumentType, mdfe.AccessKey)
	}
}

func TestExtract_BadDecimalIsParseIssue(t *testing.T) {
	f := defaultInvoice(1)
	f.Items[0].Qty = "dois"
	doc, err := Extract(f.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Items[0].Quantity.IsZero() {
		t.Fatalf("expected zero quantity, got %s", doc.Items[0].Quantity)
	}
	if len(doc.ParseIssues) != 1 {
		t.Fatalf("expected one parse issue, got %v", doc.ParseIssues)
	}
}

func TestExtract_UnparseableDatePassesThrough(t *testing.T) {
	f := defaultInvoice(1)
	f.IssueDate = "15 de janeiro"
	doc, err := Extract(f.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if doc.IssueDate != "15 de janeiro" {
		t.Fatalf("expected raw date kept, got %q", doc.IssueDate)
	}
}

func TestExtract_Latin1(t *testing.T) {
	body := `<?xml version="1.0" encoding="ISO-8859-1"?><NFe><infNFe Id="NFe` + testKey(2) + `"><emit><xNome>Padaria São João</xNome></emit></infNFe></NFe>`
	raw, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := Extract(raw)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Issuer.LegalName != "Padaria São João" {
		t.Fatalf("unexpected decoded name %q", doc.Issuer.LegalName)
	}
}

func TestFieldLocator_UnqualifiedWinsOverNamespace(t *testing.T) {
	root, err := ParseTree([]byte(`<r><a xmlns="` + NamespaceNFe + `"><b>ns</b></a><a><b>plain</b></a></r>`))
	if err != nil {
		t.Fatal(err)
	}
	loc := NewFieldLocator()
	if got := loc.Text(root, "a/b"); got != "plain" {
		t.Fatalf("expected unqualified match first, got %q", got)
	}
	if got := NewFieldLocator(NamespaceNFe).Text(root, "a/b"); got != "ns" {
		t.Fatalf("expected namespaced match, got %q", got)
	}
	if n := loc.FindAll(root, "a/b"); len(n) != 1 {
		t.Fatalf("expected FindAll to stop at the first matching namespace, got %d", len(n))
	}
}
