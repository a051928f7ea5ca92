package backend

import (
	"context"
	"fmt"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
)

// storedTree is a plan's rows in tree form next to their stored versions,
// so family operations can run on the tree and the differences be written
// back.
type storedTree struct {
	rows map[string]store.Row
	root *plan.Row
}

func (e *Engine) loadTree(ctx context.Context, key string) (*storedTree, error) {
	rows, err := e.repo.ListRows(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list rows of %s: %w", key, err)
	}
	tree := &storedTree{rows: make(map[string]store.Row, len(rows))}
	flat := make([]*plan.Row, 0, len(rows))
	for _, r := range rows {
		tree.rows[r.EID] = r
		flat = append(flat, r.ShortRow.Row())
	}
	tree.root = &plan.Row{EID: plan.RootPID, Type: plan.TypeRoot, Children: plan.BuildTree(flat)}
	return tree, nil
}

func (t *storedTree) node(eid string) *plan.Row {
	if eid == plan.RootPID {
		return t.root
	}
	return plan.FindBranch(t.root.Children, eid)
}

// shifted returns the stored rows of family whose pid or pos no longer
// match storage. Position shifts keep the row's updated_at; only the row a
// write is about is touched.
func (t *storedTree) shifted(family []*plan.Row) []store.Row {
	var out []store.Row
	for _, r := range family {
		stored, ok := t.rows[r.EID]
		if !ok || (stored.Pos == r.Pos && stored.PID == r.PID) {
			continue
		}
		stored.Pos = r.Pos
		stored.PID = r.PID
		out = append(out, stored)
	}
	return out
}

func (t *storedTree) touch(rows []store.Row, eid string, now int64) {
	for i := range rows {
		if rows[i].EID == eid {
			rows[i].UpdatedAt = now
		}
	}
}
