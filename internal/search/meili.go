package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

const idxRows = "plan_rows"

// Meili indexes plan rows in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the row index.
// The client is returned even when the first health check fails; a
// background loop keeps probing.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxRows,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxRows, err)
	}

	index := m.client.Index(idxRows)
	filterable := []interface{}{"planKey", "visible", "type"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxRows, err)
	}
	searchable := []string{"name", "link", "tooltip", "video_script"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxRows, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the row index for one plan.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	filters := []string{fmt.Sprintf("planKey = %q", q.PlanKey)}
	if !q.IncludeHidden {
		filters = append(filters, "visible = true")
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxRows,
			Query:                 q.Text,
			Limit:                 limit,
			AttributesToHighlight: []string{"name", "tooltip", "video_script"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			Filter:                filters,
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		EID:  decodeString(hit, "eid"),
		PID:  decodeString(hit, "pid"),
		Type: plan.RowType(decodeString(hit, "type")),
		Name: firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name")),
	}
	if strings.Contains(decodeFormattedString(hit, "name"), "<mark>") {
		r.Fields = append(r.Fields, FieldName)
	}
	if tip := decodeFormattedString(hit, "tooltip"); strings.Contains(tip, "<mark>") {
		r.Fields = append(r.Fields, FieldTooltip)
		r.Snippet = tip
	}
	if script := decodeFormattedString(hit, "video_script"); strings.Contains(script, "<mark>") {
		r.Fields = append(r.Fields, FieldVideo)
		if r.Snippet == "" {
			r.Snippet = script
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexRows adds or updates rows in the search index.
func (m *Meili) IndexRows(records []RowRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxRows).AddDocuments(records, nil)
	return err
}

// DeleteRow removes a row from the search index.
func (m *Meili) DeleteRow(planKey, eid string) error {
	_, err := m.client.Index(idxRows).DeleteDocument(DocumentID(planKey, eid), nil)
	return err
}
