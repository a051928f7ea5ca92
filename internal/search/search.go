package search

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

// Field names which part of a row matched.
type Field string

const (
	FieldName    Field = "name"
	FieldTooltip Field = "tooltip"
	FieldVideo   Field = "video_script"
)

// Result is a single search hit returned to the caller.
type Result struct {
	EID     string       `json:"eid"`
	PID     string       `json:"pid"`
	Type    plan.RowType `json:"type"`
	Name    string       `json:"name"`
	Snippet string       `json:"snippet"`
	Fields  []Field      `json:"fields,omitempty"`
}

// Query describes a search request within one plan.
type Query struct {
	PlanKey       string
	Text          string
	Limit         int
	IncludeHidden bool
}

// Response is the envelope returned by the search action.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// RowRecord is the data we index for a plan row.
type RowRecord struct {
	ID          string       `json:"id"`
	PlanKey     string       `json:"planKey"`
	EID         string       `json:"eid"`
	PID         string       `json:"pid"`
	Type        plan.RowType `json:"type"`
	Name        string       `json:"name"`
	Tooltip     string       `json:"tooltip"`
	Link        string       `json:"link"`
	VideoScript string       `json:"video_script"`
	Visible     bool         `json:"visible"`
}

// DocumentID is the index primary key for a row. Plan keys may contain
// characters the index rejects, so the pair is hashed.
func DocumentID(planKey, eid string) string {
	sum := sha256.Sum256([]byte(planKey + "\x00" + eid))
	return hex.EncodeToString(sum[:16])
}

func RecordFor(planKey string, r plan.ShortRow) RowRecord {
	return RowRecord{
		ID:          DocumentID(planKey, r.EID),
		PlanKey:     planKey,
		EID:         r.EID,
		PID:         r.PID,
		Type:        r.Type,
		Name:        r.Name,
		Tooltip:     r.Tooltip,
		Link:        r.Link,
		VideoScript: r.VideoScript,
		Visible:     r.Visible,
	}
}
