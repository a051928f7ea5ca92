// Package export renders a plan as a printable checklist, as HTML or as a
// PDF printed by headless Chrome.
package export

import (
	"errors"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Request names the plan to export. Action is the get action the plan is
// read with, so hidden rows follow the same rules as the session.
type Request struct {
	Action string
	Params plan.Params
	Format Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates the plan could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates no Chrome or Chromium binary was found.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrUnsupportedFormat    = errors.New("unsupported export format")
)
