package store

import (
	"errors"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

var ErrNotFound = errors.New("not found")

// Plan is one stored plan instance. Key is derived from the plan type and
// the session that owns it; see backend.PlanKey.
type Plan struct {
	Key       string
	PlanType  string
	Name      string
	AppMode   string
	KeyID     string
	CreatedAt int64
	UpdatedAt int64
}

// Row is the persisted form of a plan row. UpdatedAt is a unix millisecond
// stamp compared against a client's load time before deletes.
type Row struct {
	PlanKey string
	plan.ShortRow
	UpdatedAt int64
}

func RowsToShort(rows []Row) []plan.ShortRow {
	out := make([]plan.ShortRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ShortRow)
	}
	return out
}
