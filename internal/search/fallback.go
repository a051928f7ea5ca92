package search

import (
	"context"
	"strings"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
)

type rowSearcher interface {
	SearchRows(ctx context.Context, planKey, query string, limit int) ([]store.Row, error)
}

// Fallback searches the row repository directly. It is used whenever
// Meilisearch is not configured or unhealthy.
type Fallback struct {
	rows rowSearcher
}

func NewFallback(rows rowSearcher) *Fallback {
	return &Fallback{rows: rows}
}

func (f *Fallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := f.rows.SearchRows(ctx, q.PlanKey, text, limit)
	if err != nil {
		return nil, 0, err
	}

	needle := strings.ToLower(text)
	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		if !r.Visible && !q.IncludeHidden {
			continue
		}
		res := Result{EID: r.EID, PID: r.PID, Type: r.Type, Name: r.Name}
		if strings.Contains(strings.ToLower(r.Name+r.Link), needle) {
			res.Fields = append(res.Fields, FieldName)
		}
		if strings.Contains(strings.ToLower(r.Tooltip), needle) {
			res.Fields = append(res.Fields, FieldTooltip)
			res.Snippet = snippet(r.Tooltip, needle)
		}
		if strings.Contains(strings.ToLower(r.VideoScript), needle) {
			res.Fields = append(res.Fields, FieldVideo)
			if res.Snippet == "" {
				res.Snippet = snippet(r.VideoScript, needle)
			}
		}
		results = append(results, res)
	}
	return results, len(results), nil
}

// snippet cuts up to 30 words starting shortly before the first word that
// contains the start of the match.
func snippet(text, needle string) string {
	words := strings.Fields(text)
	first := needle
	if parts := strings.Fields(needle); len(parts) > 0 {
		first = parts[0]
	}
	start := 0
	for i, w := range words {
		if strings.Contains(strings.ToLower(w), first) {
			start = i - 10
			break
		}
	}
	if start < 0 {
		start = 0
	}
	end := start + 30
	if end > len(words) {
		end = len(words)
	}
	return strings.Join(words[start:end], " ")
}
