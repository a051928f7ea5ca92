package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/util"
)

var (
	ErrWriteRejected = errors.New("write rejected by backend")
	ErrInvalidType   = errors.New("invalid row type")
	ErrNotPermitted  = errors.New("not permitted in this mode")
)

const (
	DefaultWriteTimeout = 20 * time.Second

	ModalConfirmDelete = "confirmDelete"
)

type SyncOptions struct {
	// WriteTimeout bounds each backend write. A write that times out counts
	// as failed.
	WriteTimeout time.Duration
}

// Syncer applies user intents to the store optimistically and mirrors them
// to the gateway. Local state changes before any network call starts; the
// network outcome only settles the save counter or raises the shared error
// flag. Rejected writes are not rolled back.
type Syncer struct {
	ctx   context.Context
	store *Store
	gw    Gateway
	opts  SyncOptions

	mu          sync.Mutex
	generation  uint64
	unsubscribe func()

	writes sync.WaitGroup
}

func NewSyncer(ctx context.Context, store *Store, gw Gateway, opts SyncOptions) *Syncer {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Syncer{ctx: ctx, store: store, gw: gw, opts: opts}
}

func (s *Syncer) Store() *Store {
	return s.store
}

// GetPlan (re)loads the plan for the current session. Any previous
// subscription is cancelled first so two snapshot streams never feed the
// same tree.
func (s *Syncer) GetPlan(ctx context.Context) error {
	s.mu.Lock()
	previous := s.unsubscribe
	s.unsubscribe = nil
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	if previous != nil {
		previous()
	}

	s.store.SetAppReady(false)
	s.store.ClearError()

	// The gateway may deliver the first snapshot before Subscribe returns, so
	// the lock is not held across the call.
	session := s.store.Session()
	action := Action(AppModeOf(session.Mode), VerbGet)
	unsubscribe, err := s.gw.Subscribe(ctx, action, ParamsFor(session), func(snap Snapshot) {
		if s.currentGeneration() != generation {
			return
		}
		s.HandleFetchResponse(snap)
	})
	if err != nil {
		log.Printf("plan: subscribe %s: %v", action, err)
		s.store.SetTreeError("The plan could not be loaded. Please reload.")
		return fmt.Errorf("subscribe %s: %w", action, err)
	}

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	return nil
}

func (s *Syncer) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// HandleFetchResponse installs a snapshot delivered by the gateway.
func (s *Syncer) HandleFetchResponse(snap Snapshot) {
	s.store.ApplySnapshot(snap)
}

// Close cancels the active subscription. Safe to call more than once.
// Gateways wait for their delivery goroutine on unsubscribe, and that
// goroutine takes s.mu, so the handle is called after unlocking.
func (s *Syncer) Close() {
	s.mu.Lock()
	s.generation++
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Wait blocks until every in-flight write has settled.
func (s *Syncer) Wait() {
	s.writes.Wait()
}

// RowAdd creates a row under parentEID at pos (a negative pos appends) and
// opens it for naming. Siblings at or after pos move down by one.
func (s *Syncer) RowAdd(parentEID string, typ RowType, pos int, patches ...Patch) (*Row, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if parentEID == "" {
		parentEID = RootPID
	}
	session := s.store.Session()
	if ReadOnly(ClassifyMode(session)) {
		return nil, ErrNotPermitted
	}

	el := &Row{
		EID:     util.NewEID(),
		PID:     parentEID,
		Type:    typ,
		Visible: true,
		Owner:   session.Owner,
		Edit:    true,
	}
	_, _, rest := splitStructural(patches)
	Apply(el, rest...)
	el.Type = typ

	var added *Row
	s.store.mutate(func(root *Row) bool {
		parent := s.store.parent(parentEID)
		if parent == nil || parent.Type == TypeComment {
			return false
		}
		next := NextPos(parent.Children)
		if pos < 0 || pos > next {
			pos = next
		}
		for _, sib := range parent.Children {
			if sib.Pos >= pos {
				sib.Pos++
			}
		}
		el.Pos = pos
		parent.Children = InsertAt(parent.Children, el)
		SortFamily(parent.Children)
		if parent != root {
			parent.Opened = true
		}
		Recount(root.Children)
		added = el.Clone()
		return true
	})
	if added == nil {
		log.Printf("plan: add skipped, parent %s not in tree", parentEID)
		return nil, ErrNotFoundInTree
	}

	s.post(VerbRowUpdate, added.Short(), Payload{})
	return added, nil
}

// RowUpdateLocal changes view state only; nothing is sent upstream.
func (s *Syncer) RowUpdateLocal(eid string, patches ...Patch) bool {
	return s.store.UpdateElementLocal(eid, patches...)
}

// RowUpdate applies patches locally and writes the row upstream. Patch lists
// that only touch view state stay local. SetPID is carried out as RowMoveOut
// and SetPos as RowMove, so siblings are renumbered on both sides.
func (s *Syncer) RowUpdate(eid string, patches ...Patch) bool {
	pos, pid, rest := splitStructural(patches)
	if pid != nil && *pid == "" {
		*pid = RootPID
	}
	if pid != nil {
		if parent, ok := s.store.ParentOf(eid); !ok || parent != *pid {
			at := -1
			if pos != nil {
				at = *pos
			}
			if !s.RowMoveOut(eid, *pid, at) {
				return false
			}
			if len(rest) == 0 {
				return true
			}
			return s.RowUpdate(eid, rest...)
		}
	}
	if pos != nil {
		return s.RowMove(eid, *pos, rest...)
	}
	patches = rest

	if OnlyTransient(patches) {
		return s.RowUpdateLocal(eid, patches...)
	}

	var short ShortRow
	found := s.store.mutate(func(root *Row) bool {
		el := s.store.lookup(eid)
		if el == nil {
			return false
		}
		typ := el.Type
		Apply(el, patches...)
		el.Type = typ
		if touchesChecked(patches) {
			Recount(root.Children)
		}
		short = el.Short()
		return true
	})
	if !found {
		log.Printf("plan: update skipped, eid %s not in tree", eid)
		return false
	}

	s.post(VerbRowUpdate, short, Payload{})
	return true
}

// RowMove moves eid to newPos within its current parent. Extra patches are
// applied in the same step.
func (s *Syncer) RowMove(eid string, newPos int, patches ...Patch) bool {
	var short ShortRow
	moved := s.store.mutate(func(root *Row) bool {
		parent := FindParent(root, eid)
		if parent == nil {
			return false
		}
		_, el := FindMember(parent.Children, eid)
		if newPos < 0 {
			newPos = 0
		}
		if last := len(parent.Children) - 1; newPos > last {
			newPos = last
		}

		oldPos := el.Pos
		typ := el.Type
		_, _, rest := splitStructural(patches)
		Apply(el, rest...)
		el.Type = typ
		el.Pos = newPos
		ReSortFamily(parent.Children, eid, oldPos, newPos, false)
		short = el.Short()
		return true
	})
	if !moved {
		log.Printf("plan: move skipped, eid %s not in tree", eid)
		return false
	}

	s.post(VerbRowMove, short, Payload{})
	return true
}

// RowMoveOut moves eid under a different parent at newPos. It returns false
// without changing anything when the destination no longer exists or lies
// inside the moved subtree.
func (s *Syncer) RowMoveOut(eid, newParentEID string, newPos int) bool {
	if newParentEID == "" {
		newParentEID = RootPID
	}

	var short ShortRow
	moved := s.store.mutate(func(root *Row) bool {
		var dest *Row
		if newParentEID == RootPID {
			dest = root
		} else {
			dest = FindBranch(root.Children, newParentEID)
		}
		if dest == nil || dest.Type == TypeComment {
			return false
		}
		oldParent := FindParent(root, eid)
		if oldParent == nil || IsAncestor(root, eid, newParentEID) {
			return false
		}
		if oldParent == dest {
			return false
		}

		var el *Row
		oldParent.Children, el = RemoveFromFamily(oldParent.Children, eid)
		el.PID = dest.EID
		if newPos < 0 || newPos > len(dest.Children) {
			newPos = len(dest.Children)
		}
		dest.Children = AddToFamily(dest.Children, el, newPos)
		if dest != root {
			dest.Opened = true
		}
		Recount(root.Children)
		short = el.Short()
		return true
	})
	if !moved {
		log.Printf("plan: move out of %s to %s skipped", eid, newParentEID)
		return false
	}

	s.post(VerbMoveOut, short, Payload{})
	return true
}

// RowDelete removes eid. A row with children is only opened and flagged for
// confirmation unless forceDelete is set. Deletion re-sorts the row past the
// end of its family first, so the remaining siblings close the gap through
// the same shift used by moves.
func (s *Syncer) RowDelete(eid string, forceDelete bool) bool {
	var (
		short       ShortRow
		needsPrompt bool
	)
	deleted := s.store.mutate(func(root *Row) bool {
		parent := FindParent(root, eid)
		if parent == nil {
			return false
		}
		_, el := FindMember(parent.Children, eid)
		if len(el.Children) > 0 && !forceDelete {
			el.Opened = true
			s.store.modal = Modal{Name: ModalConfirmDelete, EID: eid}
			needsPrompt = true
			return true
		}

		short = el.Short()
		oldPos := el.Pos
		el.Pos = EndPos
		ReSortFamily(parent.Children, eid, oldPos, EndPos, false)
		parent.Children, _ = DeleteMember(parent.Children, eid)
		if s.store.modal.EID == eid {
			s.store.modal = Modal{}
		}
		Recount(root.Children)
		return true
	})
	if needsPrompt {
		return false
	}
	if !deleted {
		log.Printf("plan: delete skipped, eid %s not in tree", eid)
		return false
	}

	s.post(VerbRowDelete, short, Payload{EID: eid, Loaded: LoadedStamp(s.store.Loaded())})
	return true
}

// NextChecked is the checkbox cycle NEW → NEXT → DONE → NEW.
func NextChecked(c Checked) Checked {
	switch c {
	case CheckedNew:
		return CheckedNext
	case CheckedNext:
		return CheckedDone
	default:
		return CheckedNew
	}
}

// Cycle advances a checkbox row's task state when the session may.
func (s *Syncer) Cycle(eid string) bool {
	session := s.store.Session()
	r, ok := s.store.Find(eid)
	if !ok {
		return false
	}
	if !CanCycle(ClassifyMode(session), session, r) {
		return false
	}
	return s.RowUpdate(eid, SetChecked(NextChecked(r.Checked)))
}

// ToggleVisible hides or shows a row.
func (s *Syncer) ToggleVisible(eid string) bool {
	r, ok := s.store.Find(eid)
	if !ok {
		return false
	}
	return s.RowUpdate(eid, SetVisible(!r.Visible))
}

// MarkRead clears the unread flag on a link or comment row.
func (s *Syncer) MarkRead(eid string) bool {
	r, ok := s.store.Find(eid)
	if !ok || (r.Type != TypeLink && r.Type != TypeComment) || r.Checked == Read {
		return false
	}
	return s.RowUpdate(eid, SetChecked(Read))
}

// Search highlights rows matching query. An empty query clears the search.
func (s *Syncer) Search(query string) bool {
	if query == "" {
		s.ClearSearch()
		return false
	}
	matched := false
	s.store.mutate(func(root *Row) bool {
		s.store.search = query
		matched = HighlightMatching(root.Children, query)
		return true
	})
	return matched
}

// ClearSearch drops the search and collapses every row.
func (s *Syncer) ClearSearch() {
	s.store.mutate(func(root *Row) bool {
		s.store.search = ""
		ClearHighlights(root.Children)
		return true
	})
}

func (s *Syncer) post(verb string, row ShortRow, payload Payload) {
	session := s.store.Session()
	action := Action(AppModeOf(session.Mode), verb)
	payload.Params = ParamsFor(session)
	payload.Row = &row

	s.store.ElStartUpdate(row.EID)
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
		defer cancel()

		res, err := s.gw.Post(ctx, action, payload)
		if err == nil && res.Accepted() {
			s.store.ElCommit(row.EID)
			return
		}
		if err == nil {
			err = ErrWriteRejected
		}
		raw, _ := json.Marshal(row)
		log.Printf("plan: %s for %s failed: %v row=%s", action, row.EID, err, raw)
		s.store.SetWriteError(action, row, writeErrorMessage(row), err)
	}()
}

func writeErrorMessage(row ShortRow) string {
	if row.Name == "" {
		return "A change could not be saved. Please reload the plan."
	}
	return fmt.Sprintf("Changes to %q could not be saved. Please reload the plan.", row.Name)
}
