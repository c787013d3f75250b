package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
<NFe><infNFe versao="4.00" Id="NFe35240111222333000181550010000000011000000011">
<ide><mod>55</mod><serie>1</serie><nNF>1</nNF><dhEmi>2024-01-15T10:30:00-03:00</dhEmi><tpNF>1</tpNF></ide>
<emit><CNPJ>11222333000181</CNPJ><xNome>Empresa Teste LTDA</xNome><enderEmit><xMun>Sao Paulo</xMun><UF>SP</UF></enderEmit><IE>123456789</IE></emit>
<dest><CPF>52998224725</CPF><xNome>Fulano de Tal</xNome></dest>
<det nItem="1"><prod><cProd>P001</cProd><xProd>Produto</xProd><NCM>12345678</NCM><CFOP>5102</CFOP><uCom>UN</uCom><qCom>2</qCom><vUnCom>50.00</vUnCom><vProd>100.00</vProd></prod></det>
<total><ICMSTot><vProd>100.00</vProd><vFrete>10.00</vFrete><vDesc>5.00</vDesc><vOutro>0.00</vOutro><vNF>105.00</vNF></ICMSTot></total>
</infNFe></NFe>
</nfeProc>`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_ProcessQueryIntegrate(t *testing.T) {
	tmp := t.TempDir()
	pending := filepath.Join(tmp, "pending")
	if err := os.MkdirAll(pending, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pending, "nota.xml"), []byte(sampleInvoice), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pending, "lixo.xml"), []byte("<nfeProc>"), 0o644); err != nil {
		t.Fatal(err)
	}
	db := filepath.Join(tmp, "db", "fiscal.db")

	out, err := execute(t, "process", "--db", db,
		"--pending", pending,
		"--processed", filepath.Join(tmp, "processed"),
		"--rejected", filepath.Join(tmp, "rejected"))
	if err != nil {
		t.Fatalf("process: %v\n%s", err, out)
	}
	if !strings.Contains(out, "total=2 succeeded=1 failed=1") {
		t.Fatalf("unexpected process output:\n%s", out)
	}
	if !strings.Contains(out, "malformed_input") {
		t.Fatalf("expected rejected file listed:\n%s", out)
	}

	out, err = execute(t, "documents", "--db", db, "--json")
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	var docs []map[string]any
	if err := json.Unmarshal([]byte(out), &docs); err != nil {
		t.Fatalf("expected JSON list: %v\n%s", err, out)
	}
	if len(docs) != 1 || docs[0]["AccessKey"] != "35240111222333000181550010000000011000000011" {
		t.Fatalf("unexpected documents: %v", docs)
	}

	if _, err := execute(t, "integrate", "1", "--db", db); err == nil {
		t.Fatalf("expected --user to be required")
	}
	if _, err := execute(t, "integrate", "1", "--db", db, "--user", "erp"); err != nil {
		t.Fatalf("integrate: %v", err)
	}

	out, err = execute(t, "documents", "show", "1", "--db", db)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, `"ProcessingStatus": "integrated"`) {
		t.Fatalf("expected integrated document:\n%s", out)
	}

	out, err = execute(t, "stats", "--db", db)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "grand total") || !strings.Contains(out, "105.00") {
		t.Fatalf("unexpected stats:\n%s", out)
	}

	out, err = execute(t, "outcomes", "--db", db, "--result", "failure")
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if !strings.Contains(out, "lixo.xml") || strings.Contains(out, "nota.xml") {
		t.Fatalf("unexpected outcomes:\n%s", out)
	}
}

func TestParseID(t *testing.T) {
	if _, err := parseID("0"); err == nil {
		t.Fatalf("expected error for zero")
	}
	if _, err := parseID("x"); err == nil {
		t.Fatalf("expected error for non-number")
	}
	if id, err := parseID("12"); err != nil || id != 12 {
		t.Fatalf("unexpected %d %v", id, err)
	}
}
