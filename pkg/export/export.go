package export

import (
	"fmt"
	"strings"
)

// Format identifies an export encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Dataset is an ordered table; rows are keyed by header.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// Document is a rendered export ready to be written to a response.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ParseFormat accepts csv or pdf, case-insensitively; empty means csv.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// Render encodes data in the requested format. baseName is used for the filename.
func Render(format Format, baseName string, data Dataset) (*Document, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("export requires at least one header")
	}
	switch format {
	case FormatCSV:
		body, err := renderCSV(data)
		if err != nil {
			return nil, err
		}
		return &Document{Filename: baseName + ".csv", ContentType: "text/csv", Body: body}, nil
	case FormatPDF:
		body, err := renderPDF(data)
		if err != nil {
			return nil, err
		}
		return &Document{Filename: baseName + ".pdf", ContentType: "application/pdf", Body: body}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
