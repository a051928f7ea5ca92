package backend

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/gitrepo"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/pubsub"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/search"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/util"
)

const defaultSearchLimit = 50

// Fetch answers a get action with the plan's current snapshot. A plan seen
// for the first time is created, seeded from its template.
func (e *Engine) Fetch(ctx context.Context, action string, params plan.Params) (plan.Snapshot, error) {
	t, err := e.resolve(action, params)
	if err != nil {
		return plan.Snapshot{}, err
	}
	if t.verb != plan.VerbGet {
		return plan.Snapshot{}, fmt.Errorf("%w: %s is not a fetch", ErrUnknownAction, action)
	}
	return e.snapshot(ctx, t)
}

// Subscribe delivers the current snapshot and then a fresh one after every
// accepted write to the same plan, until cancel is called.
func (e *Engine) Subscribe(ctx context.Context, action string, params plan.Params, onUpdate func(plan.Snapshot)) (func(), error) {
	t, err := e.resolve(action, params)
	if err != nil {
		return nil, err
	}
	if t.verb != plan.VerbGet {
		return nil, fmt.Errorf("%w: %s is not a fetch", ErrUnknownAction, action)
	}

	cancel, err := e.broker.Subscribe(ctx, t.key, func(n pubsub.Notice) {
		if ctx.Err() != nil {
			return
		}
		snap, err := e.snapshot(ctx, t)
		if err != nil {
			log.Printf("backend: refetch %s after revision %d: %v", t.key, n.Revision, err)
			return
		}
		onUpdate(snap)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.key, err)
	}

	snap, err := e.snapshot(ctx, t)
	if err != nil {
		cancel()
		return nil, err
	}
	onUpdate(snap)
	return cancel, nil
}

// Search looks for rows of the addressed plan.
func (e *Engine) Search(ctx context.Context, action string, params plan.Params, query string) (search.Response, error) {
	t, err := e.resolve(action, params)
	if err != nil {
		return search.Response{}, err
	}
	return e.search.Search(ctx, search.Query{
		PlanKey:       t.key,
		Text:          query,
		Limit:         defaultSearchLimit,
		IncludeHidden: !hidesHidden(t.appMode),
	}), nil
}

// History lists the plan's recorded snapshots, newest first. Without a
// history service the list is empty.
func (e *Engine) History(ctx context.Context, action string, params plan.Params, limit int) ([]gitrepo.CommitInfo, error) {
	t, err := e.resolve(action, params)
	if err != nil {
		return nil, err
	}
	if e.history == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	items, err := e.history.History(t.key, limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", t.key, err)
	}
	return items, nil
}

// Revision loads the snapshot a history entry recorded. Hidden rows follow
// the same rules as Fetch.
func (e *Engine) Revision(ctx context.Context, action string, params plan.Params, hash string) (plan.Snapshot, error) {
	t, err := e.resolve(action, params)
	if err != nil {
		return plan.Snapshot{}, err
	}
	if e.history == nil {
		return plan.Snapshot{}, gitrepo.ErrNoHistory
	}
	snap, err := e.history.SnapshotAt(t.key, hash)
	if err != nil {
		return plan.Snapshot{}, err
	}
	if hidesHidden(t.appMode) {
		snap.Root.Children = dropHidden(snap.Root.Children)
	}
	return snap, nil
}

// Compare lists the row changes between a recorded revision and another
// one, or the current plan when to is empty.
func (e *Engine) Compare(ctx context.Context, action string, params plan.Params, from, to string) ([]gitrepo.RowChange, error) {
	before, err := e.Revision(ctx, action, params, from)
	if err != nil {
		return nil, err
	}
	var after plan.Snapshot
	if to == "" {
		t, err := e.resolve(action, params)
		if err != nil {
			return nil, err
		}
		after, err = e.snapshot(ctx, t)
		if err != nil {
			return nil, err
		}
	} else {
		after, err = e.Revision(ctx, action, params, to)
		if err != nil {
			return nil, err
		}
	}
	return gitrepo.DiffRows(before, after), nil
}

func dropHidden(family []*plan.Row) []*plan.Row {
	out := make([]*plan.Row, 0, len(family))
	for _, r := range family {
		if !r.Visible {
			continue
		}
		r.Children = dropHidden(r.Children)
		out = append(out, r)
	}
	return out
}

func (e *Engine) snapshot(ctx context.Context, t target) (plan.Snapshot, error) {
	lock := e.planLock(t.key)
	lock.Lock()
	defer lock.Unlock()

	item, err := e.ensurePlan(ctx, t)
	if err != nil {
		return plan.Snapshot{}, err
	}
	rows, err := e.repo.ListRows(ctx, t.key)
	if err != nil {
		return plan.Snapshot{}, fmt.Errorf("list rows of %s: %w", t.key, err)
	}
	return buildSnapshot(item.Name, rows, hidesHidden(t.appMode)), nil
}

// buildSnapshot assembles stored rows into a tree. Hidden rows and
// everything below them are dropped when skipHidden is set.
func buildSnapshot(name string, rows []store.Row, skipHidden bool) plan.Snapshot {
	flat := make([]*plan.Row, 0, len(rows))
	for _, r := range rows {
		if skipHidden && !r.Visible {
			continue
		}
		flat = append(flat, r.ShortRow.Row())
	}
	return plan.Snapshot{
		Name: name,
		Root: plan.SnapshotRoot{Children: plan.BuildTree(flat)},
	}
}

// ensurePlan loads the addressed plan, creating it on first use. Instances
// start as a copy of their template with fresh eids. The caller holds the
// plan lock.
func (e *Engine) ensurePlan(ctx context.Context, t target) (store.Plan, error) {
	item, err := e.repo.GetPlan(ctx, t.key)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Plan{}, fmt.Errorf("load plan %s: %w", t.key, err)
	}

	now := e.now().UnixMilli()
	item = store.Plan{
		Key:       t.key,
		PlanType:  t.session.PlanID,
		Name:      t.session.PlanID,
		AppMode:   t.appMode,
		KeyID:     t.session.KeyID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if t.example {
		item.AppMode = plan.ModeTemplate
		item.KeyID = ""
	}

	var seed []store.Row
	if tk := templateKey(t.session.PlanID); tk != t.key {
		tmpl, err := e.repo.GetPlan(ctx, tk)
		switch {
		case err == nil:
			item.Name = tmpl.Name
			rows, err := e.repo.ListRows(ctx, tk)
			if err != nil {
				return store.Plan{}, fmt.Errorf("list template rows of %s: %w", tk, err)
			}
			seed = seedRows(rows, now)
		case !errors.Is(err, store.ErrNotFound):
			return store.Plan{}, fmt.Errorf("load template %s: %w", tk, err)
		}
	}

	if err := e.repo.UpsertPlan(ctx, item); err != nil {
		return store.Plan{}, fmt.Errorf("create plan %s: %w", t.key, err)
	}
	if err := e.repo.UpsertRows(ctx, t.key, seed); err != nil {
		return store.Plan{}, fmt.Errorf("seed plan %s: %w", t.key, err)
	}
	log.Printf("backend: created plan %s with %d rows", t.key, len(seed))
	e.search.IndexRows(t.key, store.RowsToShort(seed))
	return item, nil
}

// seedRows copies template rows under fresh eids. Rows whose parent is not
// part of the template are left out.
func seedRows(rows []store.Row, now int64) []store.Row {
	eids := make(map[string]string, len(rows))
	for _, r := range rows {
		eids[r.EID] = util.NewEID()
	}
	out := make([]store.Row, 0, len(rows))
	for _, r := range rows {
		pid := plan.RootPID
		if r.PID != plan.RootPID && r.PID != "" {
			mapped, ok := eids[r.PID]
			if !ok {
				continue
			}
			pid = mapped
		}
		next := r
		next.PlanKey = ""
		next.ShortRow = r.ShortRow.Row().Short()
		next.EID = eids[r.EID]
		next.PID = pid
		next.UpdatedAt = now
		out = append(out, next)
	}
	return out
}
