package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

// Source loads snapshots. *backend.Engine and every gateway satisfy it.
type Source interface {
	Fetch(ctx context.Context, action string, params plan.Params) (plan.Snapshot, error)
}

type Service struct {
	source Source
	now    func() time.Time
}

func NewService(source Source) *Service {
	return &Service{source: source, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	snap, err := s.source.Fetch(ctx, req.Action, req.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	html, err := RenderPlanHTML(BuildTemplateData(snap, s.now()))
	if err != nil {
		return nil, err
	}

	title := snap.Name
	if title == "" {
		title = req.Params.Plan
	}
	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
