package search

import (
	"context"
	"log"
	"strings"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

// Service tries Meilisearch first and falls back to the row repository.
type Service struct {
	meili    *Meili
	fallback *Fallback
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback *Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back to the
// repository.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to repository: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: repository search error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRows indexes rows (fire-and-forget to Meilisearch).
func (s *Service) IndexRows(planKey string, rows []plan.ShortRow) {
	if s.meili == nil || !s.meili.Healthy() || len(rows) == 0 {
		return
	}
	records := make([]RowRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, RecordFor(planKey, r))
	}
	go func() {
		if err := s.meili.IndexRows(records); err != nil {
			log.Printf("search: index %d rows of %s: %v", len(records), planKey, err)
		}
	}()
}

// DeleteRows removes rows from the search index (fire-and-forget).
func (s *Service) DeleteRows(planKey string, eids []string) {
	if s.meili == nil || !s.meili.Healthy() || len(eids) == 0 {
		return
	}
	go func() {
		for _, eid := range eids {
			if err := s.meili.DeleteRow(planKey, eid); err != nil {
				log.Printf("search: delete row %s of %s: %v", eid, planKey, err)
			}
		}
	}()
}

// Healthy reports whether the primary index is reachable. The fallback is
// always available.
func (s *Service) Healthy() bool {
	return s.meili != nil && s.meili.Healthy()
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
