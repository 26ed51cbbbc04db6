package dto

import "time"

// ExportFormat selects the renderer for summary exports.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// ExportFile is a rendered document ready to stream or store.
type ExportFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ExportLink is a signed download link for a stored export.
type ExportLink struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expires_at"`
}
