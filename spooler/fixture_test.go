package spooler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	validCNPJ  = "11222333000181"
	validCNPJ2 = "11444777000161"
	validCPF   = "52998224725"
)

// testKey returns a distinct 44-digit access key for n.
func testKey(n int) string {
	return fmt.Sprintf("3524011122233300018155001%09d%010d", n, n)
}

type fixtureItem struct {
	Code  string
	NCM   string
	CFOP  string
	Qty   string
	Price string
	Total string
}

// invoiceFixture renders a complete, valid NFe document unless fields are
// overridden.
type invoiceFixture struct {
	Namespaced bool
	Model      string
	Key        string
	// IDOnly drops the protocol wrapper so the key must come from infNFe@Id.
	IDOnly       bool
	Number       string
	IssueDate    string
	OpType       string
	IssuerCNPJ   string
	IssuerName   string
	RecipientCPF string
	Items        []fixtureItem
	Freight      string
	Discount     string
	Other        string
	// GrandTotal defaults to products - discount + freight + other.
	GrandTotal string
	Note       string
}

func defaultInvoice(n int) invoiceFixture {
	return invoiceFixture{
		Model:        "55",
		Key:          testKey(n),
		Number:       fmt.Sprint(n),
		IssueDate:    "2024-01-15T10:30:00-03:00",
		OpType:       "1",
		IssuerCNPJ:   validCNPJ,
		IssuerName:   "Empresa Teste LTDA",
		RecipientCPF: validCPF,
		Items: []fixtureItem{
			{Code: "P001", NCM: "12345678", CFOP: "5102", Qty: "2.0000", Price: "50.00", Total: "100.00"},
		},
		Freight:  "10.00",
		Discount: "5.00",
		Other:    "0.00",
	}
}

func (f invoiceFixture) productsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range f.Items {
		sum = sum.Add(decimal.RequireFromString(it.Total))
	}
	return sum
}

func (f invoiceFixture) Bytes() []byte {
	ns := ""
	if f.Namespaced {
		ns = ` xmlns="` + NamespaceNFe + `"`
	}
	products := f.productsTotal()
	grand := f.GrandTotal
	if grand == "" {
		grand = products.
			Sub(decimal.RequireFromString(f.Discount)).
			Add(decimal.RequireFromString(f.Freight)).
			Add(decimal.RequireFromString(f.Other)).
			StringFixed(2)
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<nfeProc versao="4.00"%s>`, ns)
	b.WriteString(`<NFe>`)
	fmt.Fprintf(&b, `<infNFe versao="4.00" Id="NFe%s">`, f.Key)
	fmt.Fprintf(&b, `<ide><cUF>35</cUF><natOp>Venda de mercadoria</natOp><mod>%s</mod><serie>1</serie><nNF>%s</nNF><dhEmi>%s</dhEmi><tpNF>%s</tpNF><finNFe>1</finNFe></ide>`,
		f.Model, f.Number, f.IssueDate, f.OpType)
	fmt.Fprintf(&b, `<emit><CNPJ>%s</CNPJ><xNome>%s</xNome><xFant>Teste</xFant><enderEmit><xLgr>Rua A</xLgr><nro>100</nro><xBairro>Centro</xBairro><cMun>3550308</cMun><xMun>Sao Paulo</xMun><UF>SP</UF><CEP>01001000</CEP></enderEmit><IE>123456789</IE></emit>`,
		f.IssuerCNPJ, f.IssuerName)
	if f.RecipientCPF != "" {
		fmt.Fprintf(&b, `<dest><CPF>%s</CPF><xNome>Fulano de Tal</xNome><enderDest><xMun>Campinas</xMun><UF>SP</UF></enderDest></dest>`, f.RecipientCPF)
	}
	for i, it := range f.Items {
		fmt.Fprintf(&b, `<det nItem="%d"><prod><cProd>%s</cProd><xProd>Produto %d</xProd><NCM>%s</NCM><CFOP>%s</CFOP><uCom>UN</uCom><qCom>%s</qCom><vUnCom>%s</vUnCom><vProd>%s</vProd></prod></det>`,
			i+1, it.Code, i+1, it.NCM, it.CFOP, it.Qty, it.Price, it.Total)
	}
	fmt.Fprintf(&b, `<total><ICMSTot><vBC>%s</vBC><vICMS>18.00</vICMS><vST>0.00</vST><vProd>%s</vProd><vFrete>%s</vFrete><vSeg>0.00</vSeg><vDesc>%s</vDesc><vII>0.00</vII><vIPI>0.00</vIPI><vPIS>1.65</vPIS><vCOFINS>7.60</vCOFINS><vOutro>%s</vOutro><vNF>%s</vNF><vTotTrib>27.25</vTotTrib></ICMSTot></total>`,
		products.StringFixed(2), products.StringFixed(2), f.Freight, f.Discount, f.Other, grand)
	fmt.Fprintf(&b, `<transp><modFrete>0</modFrete><transporta><CNPJ>%s</CNPJ><xNome>Transportadora Exemplo</xNome><UF>SP</UF></transporta></transp>`, validCNPJ2)
	if f.Note != "" {
		fmt.Fprintf(&b, `<infAdic><infCpl>%s</infCpl></infAdic>`, f.Note)
	}
	b.WriteString(`</infNFe></NFe>`)
	if !f.IDOnly {
		fmt.Fprintf(&b, `<protNFe versao="4.00"><infProt><chNFe>%s</chNFe><dhRecbto>2024-01-15T10:31:00-03:00</dhRecbto><nProt>135240000000001</nProt></infProt></protNFe>`, f.Key)
	}
	b.WriteString(`</nfeProc>`)
	return []byte(b.String())
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "fiscal.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type testDirs struct {
	Pending   string
	Processed string
	Rejected  string
}

func newTestDirs(t *testing.T) testDirs {
	t.Helper()
	tmp := t.TempDir()
	d := testDirs{
		Pending:   filepath.Join(tmp, "pending"),
		Processed: filepath.Join(tmp, "processed"),
		Rejected:  filepath.Join(tmp, "rejected"),
	}
	for _, dir := range []string{d.Pending, d.Processed, d.Rejected} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

func writeFile(t *testing.T, dir string, name string, b []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

type mockSyslogSender struct {
	mu    sync.Mutex
	calls []mockSyslogCall
	failN int
}

type mockSyslogCall struct {
	appName         string
	structuredData  string
	message         string
	timeoutArgument time.Duration
}

func (m *mockSyslogSender) SendRFC5424Timeout(appName string, structuredData string, message string, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockSyslogCall{appName: appName, structuredData: structuredData, message: message, timeoutArgument: timeout})
	if m.failN > 0 {
		m.failN--
		return fmt.Errorf("mock syslog send failure")
	}
	return nil
}

func (m *mockSyslogSender) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
}

func (m *mockSyslogSender) Calls() []mockSyslogCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockSyslogCall, len(m.calls))
	copy(out, m.calls)
	return out
}
