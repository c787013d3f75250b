package spooler

import "strings"

// ClassifyDocument maps a root element local name and the ide/mod value to a
// DocumentType. Invoice roots without a recognizable model default to
// Invoice55.
func ClassifyDocument(rootLocal string, model string) DocumentType {
	switch rootLocal {
	case "nfeProc", "NFe":
		if strings.TrimSpace(model) == "65" {
			return DocInvoice65
		}
		return DocInvoice55
	case "cteProc", "CTe", "CTeOS":
		return DocTransport
	case "mdfeProc", "MDFe":
		return DocManifestFreight
	default:
		return DocUnknown
	}
}

// KnownModel reports whether model is a fiscal model code this pipeline
// understands: 55 NFe, 65 NFCe, 57 CTe, 67 CTe-OS, 58 MDF-e.
func KnownModel(model string) bool {
	switch strings.TrimSpace(model) {
	case "55", "65", "57", "67", "58":
		return true
	default:
		return false
	}
}

// NormalizeOperationType aligns the tpNF code with its meaning:
// - 0/entrada -> entry
// - 1/saida/saída -> exit
// - else -> unknown
func NormalizeOperationType(v string) string {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "0", "entrada", "entry":
		return "entry"
	case "1", "saida", "saída", "exit":
		return "exit"
	default:
		return "unknown"
	}
}

// accessKeyPrefixes are stripped from the inf* Id attribute.
var accessKeyPrefixes = []string{"NFe", "CTe", "MDFe"}

func stripAccessKeyPrefix(id string) string {
	id = strings.TrimSpace(id)
	for _, p := range accessKeyPrefixes {
		if strings.HasPrefix(id, p) {
			return strings.TrimPrefix(id, p)
		}
	}
	return id
}
