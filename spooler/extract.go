package spooler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Extractor turns the raw bytes of one fiscal XML file into a FiscalDocument
// draft. Fields that are absent stay empty; nothing is guessed.
type Extractor struct {
	Locator *FieldLocator
	Flatten FlattenOptions
}

func NewExtractor() *Extractor {
	return &Extractor{Locator: NewFieldLocator()}
}

// Extract is NewExtractor().Extract.
func Extract(raw []byte) (*FiscalDocument, error) {
	return NewExtractor().Extract(raw)
}

func (e *Extractor) Extract(raw []byte) (*FiscalDocument, error) {
	root, err := ParseTree(raw)
	if err != nil {
		return nil, err
	}
	loc := e.Locator
	if loc == nil {
		loc = NewFieldLocator()
	}
	x := &extraction{loc: loc}

	doc := &FiscalDocument{
		ContentHash:      ContentHash(raw),
		ProcessingStatus: StatusPending,
	}

	doc.Model = loc.Text(root, "ide/mod")
	doc.DocumentType = ClassifyDocument(root.Name.Local, doc.Model)
	doc.Number = loc.FirstText(root, "ide/nNF", "ide/nCT", "ide/nMDF")
	doc.Series = loc.Text(root, "ide/serie")
	doc.IssueDate = NormalizeDate(loc.FirstText(root, "ide/dhEmi", "ide/dEmi"))
	doc.ExitDate = NormalizeDate(loc.FirstText(root, "ide/dhSaiEnt", "ide/dSaiEnt"))
	doc.OperationNature = loc.FirstText(root, "ide/natOp", "ide/CFOP")
	doc.OperationType = loc.Text(root, "ide/tpNF")
	doc.Purpose = loc.Text(root, "ide/finNFe")

	info := x.infoElement(root)
	doc.Version = info.AttrValue("versao")
	doc.AccessKey = x.accessKey(root, info)

	doc.Issuer = x.party(root, "emit", "enderEmit")
	doc.Recipient = x.party(root, "dest", "enderDest")

	doc.ProductsTotal = x.decimal(root, "ICMSTot/vProd", "productsTotal")
	doc.Freight = x.decimal(root, "ICMSTot/vFrete", "freight")
	doc.Insurance = x.decimal(root, "ICMSTot/vSeg", "insurance")
	doc.Discount = x.decimal(root, "ICMSTot/vDesc", "discount")
	doc.OtherExpenses = x.decimal(root, "ICMSTot/vOutro", "otherExpenses")
	doc.GrandTotal = x.decimal(root, "ICMSTot/vNF", "grandTotal")
	if doc.DocumentType == DocTransport && doc.GrandTotal.IsZero() {
		doc.GrandTotal = x.decimal(root, "vPrest/vTPrest", "grandTotal")
	}
	doc.Taxes = TaxTotals{
		ICMSBase:    x.decimal(root, "ICMSTot/vBC", "icmsBase"),
		ICMS:        x.decimal(root, "ICMSTot/vICMS", "icms"),
		ICMSST:      x.decimal(root, "ICMSTot/vST", "icmsST"),
		IPI:         x.decimal(root, "ICMSTot/vIPI", "ipi"),
		PIS:         x.decimal(root, "ICMSTot/vPIS", "pis"),
		COFINS:      x.decimal(root, "ICMSTot/vCOFINS", "cofins"),
		ImportTax:   x.decimal(root, "ICMSTot/vII", "importTax"),
		Approximate: x.decimal(root, "ICMSTot/vTotTrib", "approximateTaxes"),
	}

	doc.Items = x.items(root)

	doc.FreightMode = loc.Text(root, "transp/modFrete")
	doc.CarrierTaxID = loc.FirstText(root, "transp/transporta/CNPJ", "transp/transporta/CPF")
	doc.CarrierName = loc.Text(root, "transp/transporta/xNome")
	doc.CarrierState = loc.Text(root, "transp/transporta/UF")

	doc.Protocol = loc.Text(root, "infProt/nProt")
	doc.AuthorizedAt = loc.Text(root, "infProt/dhRecbto")
	doc.AdditionalInfo = loc.Text(root, "infAdic/infCpl")

	flat := FlattenXML(root, e.Flatten)
	if b, err := json.Marshal(flat); err == nil {
		doc.FlatFields = string(b)
	}

	doc.ParseIssues = x.issues
	return doc, nil
}

type extraction struct {
	loc    *FieldLocator
	issues []string
}

func (x *extraction) infoElement(root *Node) *Node {
	for _, name := range []string{"infNFe", "infCte", "infCTe", "infMDFe"} {
		if n := x.loc.Find(root, name); n != nil {
			return n
		}
	}
	if strings.HasPrefix(root.Name.Local, "inf") {
		return root
	}
	return nil
}

// accessKey prefers the authorization protocol and falls back to the Id
// attribute of the information element.
func (x *extraction) accessKey(root *Node, info *Node) string {
	fromProt := x.loc.FirstText(root,
		"protNFe/infProt/chNFe",
		"protCTe/infProt/chCTe",
		"protMDFe/infProt/chMDFe",
	)
	if key := NormalizeAccessKey(fromProt); key != "" {
		return key
	}
	return NormalizeAccessKey(stripAccessKeyPrefix(info.AttrValue("Id")))
}

func (x *extraction) party(root *Node, tag string, addrTag string) Party {
	n := x.loc.Find(root, tag)
	if n == nil {
		return Party{}
	}
	p := Party{
		LegalName:         x.loc.Text(n, "xNome"),
		TradeName:         x.loc.Text(n, "xFant"),
		StateRegistration: x.loc.Text(n, "IE"),
	}
	if v := x.loc.Text(n, "CNPJ"); v != "" {
		p.TaxID, p.TaxIDKind = v, TaxIDCNPJ
	} else if v := x.loc.Text(n, "CPF"); v != "" {
		p.TaxID, p.TaxIDKind = v, TaxIDCPF
	}
	if a := x.loc.Find(n, addrTag); a != nil {
		p.Address = Address{
			Street:   x.loc.Text(a, "xLgr"),
			Number:   x.loc.Text(a, "nro"),
			District: x.loc.Text(a, "xBairro"),
			City:     x.loc.Text(a, "xMun"),
			CityCode: x.loc.Text(a, "cMun"),
			State:    x.loc.Text(a, "UF"),
			Zip:      x.loc.Text(a, "CEP"),
		}
	}
	return p
}

func (x *extraction) items(root *Node) []LineItem {
	dets := x.loc.FindAll(root, "det")
	if len(dets) == 0 {
		return nil
	}
	out := make([]LineItem, 0, len(dets))
	for i, det := range dets {
		label := fmt.Sprintf("item %d", i+1)
		it := LineItem{
			Position:    i,
			LineNumber:  i + 1,
			ProductCode: x.loc.Text(det, "prod/cProd"),
			Description: x.loc.Text(det, "prod/xProd"),
			NCMCode:     x.loc.Text(det, "prod/NCM"),
			CFOPCode:    x.loc.Text(det, "prod/CFOP"),
			Unit:        x.loc.Text(det, "prod/uCom"),
			Quantity:    x.decimal(det, "prod/qCom", label+" quantity"),
			UnitPrice:   x.decimal(det, "prod/vUnCom", label+" unitPrice"),
			LineTotal:   x.decimal(det, "prod/vProd", label+" lineTotal"),
		}
		if v := det.AttrValue("nItem"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				x.issues = append(x.issues, fmt.Sprintf("%s: nItem %q is not a number", label, v))
			} else {
				it.LineNumber = n
			}
		}
		out = append(out, it)
	}
	return out
}

func (x *extraction) decimal(from *Node, path string, field string) decimal.Decimal {
	raw := x.loc.Text(from, path)
	d, err := ParseDecimal(raw)
	if err != nil {
		x.issues = append(x.issues, fmt.Sprintf("%s: %q is not a decimal number", field, raw))
		return decimal.Zero
	}
	return d
}
