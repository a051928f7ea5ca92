package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/pubsub"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/rbac"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
)

var rejected = plan.PostResult{Result: 0}

// change is what an accepted write did to storage.
type change struct {
	upserted []store.Row
	deleted  []string
}

func (c change) eids() []string {
	out := make([]string, 0, len(c.upserted)+len(c.deleted))
	for _, r := range c.upserted {
		out = append(out, r.EID)
	}
	return append(out, c.deleted...)
}

// Post applies a write action. Any error means the write was rejected and
// nothing was stored.
func (e *Engine) Post(ctx context.Context, action string, payload plan.Payload) (plan.PostResult, error) {
	t, err := e.resolve(action, payload.Params)
	if err != nil {
		return rejected, err
	}
	switch t.verb {
	case plan.VerbRowUpdate, plan.VerbRowMove, plan.VerbMoveOut, plan.VerbRowDelete:
	default:
		return rejected, fmt.Errorf("%w: %s is not a write", ErrUnknownAction, action)
	}
	if t.example || plan.ReadOnly(t.mode) {
		return rejected, fmt.Errorf("%w: %s sessions are read-only", ErrForbidden, t.mode)
	}

	ch, err := e.apply(ctx, t, payload)
	if err != nil {
		return rejected, err
	}
	e.afterWrite(ctx, t, ch)
	return plan.PostResult{Result: 1, EIDs: ch.eids()}, nil
}

func (e *Engine) apply(ctx context.Context, t target, payload plan.Payload) (change, error) {
	lock := e.planLock(t.key)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.ensurePlan(ctx, t); err != nil {
		return change{}, err
	}

	var (
		ch  change
		err error
	)
	switch t.verb {
	case plan.VerbRowUpdate:
		ch, err = e.rowUpdate(ctx, t, payload)
	case plan.VerbRowMove:
		ch, err = e.rowMove(ctx, t, payload)
	case plan.VerbMoveOut:
		ch, err = e.rowMoveOut(ctx, t, payload)
	case plan.VerbRowDelete:
		ch, err = e.rowDelete(ctx, t, payload)
	}
	if err != nil {
		return change{}, err
	}

	if err := e.repo.UpsertRows(ctx, t.key, ch.upserted); err != nil {
		return change{}, fmt.Errorf("store rows of %s: %w", t.key, err)
	}
	if err := e.repo.DeleteRows(ctx, t.key, ch.deleted); err != nil {
		return change{}, fmt.Errorf("delete rows of %s: %w", t.key, err)
	}
	return ch, nil
}

// afterWrite runs outside the plan lock: subscribers refetch from inside
// Publish.
func (e *Engine) afterWrite(ctx context.Context, t target, ch change) {
	e.search.IndexRows(t.key, store.RowsToShort(ch.upserted))
	e.search.DeleteRows(t.key, ch.deleted)
	e.recordHistory(ctx, t, ch)

	notice := pubsub.Notice{
		PlanKey: t.key,
		Action:  plan.Action(t.appMode, t.verb),
		EIDs:    ch.eids(),
		At:      e.now().UnixMilli(),
	}
	if _, err := e.broker.Publish(ctx, notice); err != nil {
		log.Printf("backend: publish %s: %v", t.key, err)
	}
}

func (e *Engine) recordHistory(ctx context.Context, t target, ch change) {
	if e.history == nil {
		return
	}
	item, err := e.repo.GetPlan(ctx, t.key)
	if err != nil {
		log.Printf("backend: history of %s: %v", t.key, err)
		return
	}
	rows, err := e.repo.ListRows(ctx, t.key)
	if err != nil {
		log.Printf("backend: history of %s: %v", t.key, err)
		return
	}
	message := fmt.Sprintf("%s %s", t.verb, strings.Join(ch.eids(), ", "))
	if _, _, err := e.history.CommitSnapshot(t.key, buildSnapshot(item.Name, rows, false), author(t.session), message); err != nil {
		log.Printf("backend: history of %s: %v", t.key, err)
	}
}

// rowUpdate upserts one row. An existing row keeps its type and its place
// in the tree; moves go through row_move and row_move_out. A new row is
// inserted at its pos and the siblings from there on shift down.
func (e *Engine) rowUpdate(ctx context.Context, t target, p plan.Payload) (change, error) {
	if p.Row == nil || p.Row.EID == "" {
		return change{}, fmt.Errorf("%w: row is required", ErrInvalidRequest)
	}
	in := *p.Row

	existing, err := e.repo.GetRow(ctx, t.key, in.EID)
	if errors.Is(err, store.ErrNotFound) {
		return e.insertRow(ctx, t, in)
	}
	if err != nil {
		return change{}, fmt.Errorf("load row %s: %w", in.EID, err)
	}

	if !allowed(t, existing.ShortRow, checkOnly(existing.ShortRow, in)) {
		return change{}, fmt.Errorf("%w: %s may not change %s row %s", ErrForbidden, t.mode, existing.Type, in.EID)
	}

	next := existing
	next.ShortRow = in
	next.Type = existing.Type
	next.PID = existing.PID
	next.Pos = existing.Pos
	next.Owner = existing.Owner
	next.UpdatedAt = e.now().UnixMilli()
	return change{upserted: []store.Row{next}}, nil
}

func (e *Engine) insertRow(ctx context.Context, t target, in plan.ShortRow) (change, error) {
	if !in.Type.Valid() {
		return change{}, fmt.Errorf("%w: row type %q", ErrInvalidRequest, in.Type)
	}
	if in.PID == "" {
		in.PID = plan.RootPID
	}
	if !allowed(t, in, false) {
		return change{}, fmt.Errorf("%w: %s may not add %s rows", ErrForbidden, t.mode, in.Type)
	}

	tree, err := e.loadTree(ctx, t.key)
	if err != nil {
		return change{}, err
	}
	parent := tree.node(in.PID)
	if parent == nil {
		return change{}, fmt.Errorf("%w: parent %s", ErrRowNotFound, in.PID)
	}
	if parent.Type == plan.TypeComment {
		return change{}, fmt.Errorf("%w: comments have no children", ErrInvalidRequest)
	}

	if next := plan.NextPos(parent.Children); in.Pos < 0 || in.Pos > next {
		in.Pos = next
	}
	for _, sib := range parent.Children {
		if sib.Pos >= in.Pos {
			sib.Pos++
		}
	}
	out := tree.shifted(parent.Children)
	out = append(out, store.Row{ShortRow: in, UpdatedAt: e.now().UnixMilli()})
	return change{upserted: out}, nil
}

func (e *Engine) rowMove(ctx context.Context, t target, p plan.Payload) (change, error) {
	if p.Row == nil || p.Row.EID == "" {
		return change{}, fmt.Errorf("%w: row is required", ErrInvalidRequest)
	}
	eid := p.Row.EID

	tree, err := e.loadTree(ctx, t.key)
	if err != nil {
		return change{}, err
	}
	stored, ok := tree.rows[eid]
	if !ok {
		return change{}, fmt.Errorf("%w: %s", ErrRowNotFound, eid)
	}
	if !allowed(t, stored.ShortRow, false) {
		return change{}, fmt.Errorf("%w: %s may not move %s rows", ErrForbidden, t.mode, stored.Type)
	}

	parent := plan.FindParent(tree.root, eid)
	_, el := plan.FindMember(parent.Children, eid)
	newPos := p.Row.Pos
	if newPos < 0 {
		newPos = 0
	}
	if last := len(parent.Children) - 1; newPos > last {
		newPos = last
	}
	oldPos := el.Pos
	el.Pos = newPos
	plan.ReSortFamily(parent.Children, eid, oldPos, newPos, false)

	out := tree.shifted(parent.Children)
	tree.touch(out, eid, e.now().UnixMilli())
	return change{upserted: out}, nil
}

// rowMoveOut re-parents a row. The destination must exist, accept children
// and lie outside the moved subtree.
func (e *Engine) rowMoveOut(ctx context.Context, t target, p plan.Payload) (change, error) {
	if p.Row == nil || p.Row.EID == "" {
		return change{}, fmt.Errorf("%w: row is required", ErrInvalidRequest)
	}
	eid := p.Row.EID
	newPID := p.Row.PID
	if newPID == "" {
		newPID = plan.RootPID
	}

	tree, err := e.loadTree(ctx, t.key)
	if err != nil {
		return change{}, err
	}
	stored, ok := tree.rows[eid]
	if !ok {
		return change{}, fmt.Errorf("%w: %s", ErrRowNotFound, eid)
	}
	if !allowed(t, stored.ShortRow, false) {
		return change{}, fmt.Errorf("%w: %s may not move %s rows", ErrForbidden, t.mode, stored.Type)
	}

	dest := tree.node(newPID)
	switch {
	case dest == nil:
		return change{}, fmt.Errorf("%w: destination %s", ErrRowNotFound, newPID)
	case dest.Type == plan.TypeComment:
		return change{}, fmt.Errorf("%w: comments have no children", ErrInvalidMove)
	case plan.IsAncestor(tree.root, eid, newPID):
		return change{}, fmt.Errorf("%w: %s lies inside %s", ErrInvalidMove, newPID, eid)
	}
	oldParent := plan.FindParent(tree.root, eid)
	if oldParent == dest {
		return change{}, fmt.Errorf("%w: %s is already under %s", ErrInvalidMove, eid, newPID)
	}

	var el *plan.Row
	oldParent.Children, el = plan.RemoveFromFamily(oldParent.Children, eid)
	el.PID = dest.EID
	newPos := p.Row.Pos
	if newPos < 0 || newPos > len(dest.Children) {
		newPos = len(dest.Children)
	}
	dest.Children = plan.AddToFamily(dest.Children, el, newPos)

	out := tree.shifted(oldParent.Children)
	out = append(out, tree.shifted(dest.Children)...)
	tree.touch(out, eid, e.now().UnixMilli())
	return change{upserted: out}, nil
}

// rowDelete removes a row with its whole subtree and closes the gap among
// its siblings.
func (e *Engine) rowDelete(ctx context.Context, t target, p plan.Payload) (change, error) {
	eid := p.EID
	if eid == "" && p.Row != nil {
		eid = p.Row.EID
	}
	if eid == "" {
		return change{}, fmt.Errorf("%w: eid is required", ErrInvalidRequest)
	}

	tree, err := e.loadTree(ctx, t.key)
	if err != nil {
		return change{}, err
	}
	stored, ok := tree.rows[eid]
	if !ok {
		return change{}, fmt.Errorf("%w: %s", ErrRowNotFound, eid)
	}
	if !allowed(t, stored.ShortRow, false) {
		return change{}, fmt.Errorf("%w: %s may not delete %s rows", ErrForbidden, t.mode, stored.Type)
	}
	if p.Loaded > 0 && stored.UpdatedAt > p.Loaded {
		return change{}, fmt.Errorf("%w: %s updated at %d, loaded at %d", ErrStale, eid, stored.UpdatedAt, p.Loaded)
	}

	parent := plan.FindParent(tree.root, eid)
	var el *plan.Row
	parent.Children, el = plan.RemoveFromFamily(parent.Children, eid)

	deleted := []string{eid}
	plan.Walk(el.Children, func(r *plan.Row) { deleted = append(deleted, r.EID) })
	return change{upserted: tree.shifted(parent.Children), deleted: deleted}, nil
}

// allowed applies the role table. Commenters may only change comments and
// links they authored, apart from clearing the unread flag.
func allowed(t target, row plan.ShortRow, onlyChecked bool) bool {
	role := rbac.RoleForMode(t.mode)
	action := rbac.ActionFor(row.Type, onlyChecked)
	if !rbac.Can(role, action) {
		return false
	}
	if role != rbac.RoleCommenter || action != rbac.ActionComment || onlyChecked {
		return true
	}
	return row.Owner == t.session.Owner
}

// checkOnly reports whether after differs from before in checked alone.
func checkOnly(before, after plan.ShortRow) bool {
	if before.Checked == after.Checked {
		return false
	}
	return before.Name == after.Name &&
		before.Tooltip == after.Tooltip &&
		before.Link == after.Link &&
		before.NewWindow == after.NewWindow &&
		before.Video == after.Video &&
		before.VideoScript == after.VideoScript &&
		before.Visible == after.Visible &&
		sameDate(before.Date, after.Date)
}

func sameDate(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
