// Package artifact generates and caches export binaries for scope documents.
package artifact

import "fmt"

// Kind identifies an export artifact format.
type Kind string

const (
	KindJSON  Kind = "json"
	KindExcel Kind = "excel"
	KindPDF   Kind = "pdf"
	// KindAll is the bundled archive of the three formats above.
	KindAll Kind = "all"
)

// ParseKind validates a kind string from the API surface.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindJSON, KindExcel, KindPDF, KindAll:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown artifact kind %q", s)
}

// Ext returns the file extension for the kind.
func (k Kind) Ext() string {
	switch k {
	case KindJSON:
		return ".json"
	case KindExcel:
		return ".xlsx"
	case KindPDF:
		return ".pdf"
	case KindAll:
		return ".zip"
	}
	return ""
}

// MediaType returns the declared media type for the kind.
func (k Kind) MediaType() string {
	switch k {
	case KindJSON:
		return "application/json"
	case KindExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case KindPDF:
		return "application/pdf"
	case KindAll:
		return "application/zip"
	}
	return "application/octet-stream"
}

// RenderKinds are the formats produced per document; KindAll bundles them.
var RenderKinds = []Kind{KindJSON, KindExcel, KindPDF}
