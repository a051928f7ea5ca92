package plan

import (
	"errors"
	"log"
	"sync"
	"time"
)

var ErrNotFoundInTree = errors.New("row not found in tree")

// Session is the configuration the store was initialized with.
type Session struct {
	Mode        string `json:"mode" yaml:"mode"`
	SessionType string `json:"sessionType" yaml:"sessionType"`
	Owner       int64  `json:"owner" yaml:"owner"`
	PlanID      string `json:"plan" yaml:"plan"`
	KeyID       string `json:"keyId" yaml:"keyId"`
}

// Modal identifies the dialog currently shown, if any.
type Modal struct {
	Name string `json:"name"`
	EID  string `json:"eid,omitempty"`
}

// WriteFailure records a rejected or failed write for later reconciliation.
type WriteFailure struct {
	Action string    `json:"action"`
	Row    ShortRow  `json:"row"`
	Err    string    `json:"error"`
	At     time.Time `json:"at"`
}

const maxWriteFailures = 50

// Store owns the plan tree and the session's view state. Every mutation goes
// through a named method; each method holds the store lock for its whole
// duration, so a mutation is atomic with respect to readers and other
// mutations.
type Store struct {
	mu sync.Mutex

	session     Session
	name        string
	root        *Row
	search      string
	navHover    string
	openedByNav string
	modal       Modal

	appReady     bool
	treeError    bool
	treeErrorMsg string
	loadFailed   bool
	loaded       time.Time

	saveCounter uint64
	pending     int
	pendingRows map[string]int
	failures    []WriteFailure

	version    uint64
	index      map[string]*Row
	indexDirty bool

	watchMu  sync.Mutex
	watchSeq int
	watchers map[int]func(uint64)
}

func NewStore(session Session) *Store {
	if session.Mode == "" {
		session.Mode = ModePlan
	}
	return &Store{
		session:     session,
		root:        &Row{EID: RootPID, Type: TypeRoot, Visible: true},
		pendingRows: make(map[string]int),
		indexDirty:  true,
		watchers:    make(map[int]func(uint64)),
	}
}

func (s *Store) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SetSession switches mode or owner. Callers reload the plan afterwards.
func (s *Store) SetSession(session Session) {
	s.update(func() bool {
		s.session = session
		return true
	})
}

func (s *Store) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Store) SetName(name string) {
	s.update(func() bool {
		s.name = name
		return true
	})
}

// Snapshot returns a deep copy of the current tree.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Name: s.name, Root: SnapshotRoot{Children: CloneFamily(s.root.Children)}}
}

// Find returns a copy of the row with the given eid.
func (s *Store) Find(eid string) (*Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookup(eid)
	if r == nil {
		return nil, false
	}
	return r.Clone(), true
}

// ParentOf returns the eid of the row's parent (RootPID for top level rows).
func (s *Store) ParentOf(eid string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := FindParent(s.root, eid)
	if parent == nil {
		return "", false
	}
	return parent.EID, true
}

// SetTree replaces the top-level rows. View state of rows that already
// existed locally (expanded, being named, editing a video) is carried over by
// eid.
func (s *Store) SetTree(children []*Row) {
	s.update(func() bool {
		s.setTree(children)
		return true
	})
}

type viewState struct {
	opened, edit, videoEdit bool
}

func (s *Store) setTree(children []*Row) {
	kept := make(map[string]viewState)
	Walk(s.root.Children, func(r *Row) {
		if r.Opened || r.Edit || r.VideoEdit {
			kept[r.EID] = viewState{opened: r.Opened, edit: r.Edit, videoEdit: r.VideoEdit}
		}
	})

	s.root.Children = children
	SortTree(s.root.Children)
	s.indexDirty = true

	Walk(s.root.Children, func(r *Row) {
		if v, ok := kept[r.EID]; ok {
			r.Opened = r.Opened || v.opened
			r.Edit = r.Edit || v.edit
			r.VideoEdit = r.VideoEdit || v.videoEdit
		}
	})
}

// ApplySnapshot installs a fetched snapshot: display name, tree (keeping
// expand state), ready flag and a full recount happen as one change. An
// active search is re-applied to the new rows. A load failure banner is
// cleared; a write failure banner is left for the user to dismiss.
func (s *Store) ApplySnapshot(snap Snapshot) {
	s.update(func() bool {
		s.name = snap.Name
		s.setTree(CloneFamily(snap.Root.Children))
		s.appReady = true
		if s.loadFailed {
			s.treeError, s.treeErrorMsg, s.loadFailed = false, "", false
		}
		s.loaded = time.Now()
		Recount(s.root.Children)
		if s.search != "" {
			HighlightMatching(s.root.Children, s.search)
		}
		return true
	})
}

// UpdateElementLocal applies patches to the row with the given eid. A row
// that is no longer in the tree is skipped; it may have been deleted
// concurrently.
func (s *Store) UpdateElementLocal(eid string, patches ...Patch) bool {
	if pos, pid, rest := splitStructural(patches); pos != nil || pid != nil {
		log.Printf("plan: local update of %s ignores pos/pid; use a move", eid)
		patches = rest
	}
	found := false
	s.update(func() bool {
		r := s.lookup(eid)
		if r == nil {
			log.Printf("plan: update skipped, eid %s not in tree", eid)
			return false
		}
		before := r.Type
		Apply(r, patches...)
		r.Type = before
		found = true
		return true
	})
	return found
}

// ElAddNew splices el into the parent's children at index el.Pos.
// An empty parentEID means the root.
func (s *Store) ElAddNew(parentEID string, el *Row) error {
	var err error
	s.update(func() bool {
		parent := s.parent(parentEID)
		if parent == nil {
			err = ErrNotFoundInTree
			return false
		}
		parent.Children = InsertAt(parent.Children, el)
		s.indexDirty = true
		return true
	})
	return err
}

// ElDelete removes eid from the given parent's children only.
func (s *Store) ElDelete(parentEID, eid string) bool {
	removed := false
	s.update(func() bool {
		parent := s.parent(parentEID)
		if parent == nil {
			return false
		}
		parent.Children, removed = DeleteMember(parent.Children, eid)
		if removed {
			s.indexDirty = true
		}
		return removed
	})
	return removed
}

// ReSortFamily shifts the siblings of eid for a move from oldPos to newPos
// and re-sorts the family. See ReSortFamily.
func (s *Store) ReSortFamily(parentEID, eid string, oldPos, newPos int, forceUp bool) {
	s.update(func() bool {
		parent := s.parent(parentEID)
		if parent == nil {
			return false
		}
		ReSortFamily(parent.Children, eid, oldPos, newPos, forceUp)
		return true
	})
}

func (s *Store) RemoveFromFamily(parentEID, eid string) *Row {
	var el *Row
	s.update(func() bool {
		parent := s.parent(parentEID)
		if parent == nil {
			return false
		}
		parent.Children, el = RemoveFromFamily(parent.Children, eid)
		s.indexDirty = true
		return el != nil
	})
	return el
}

func (s *Store) AddToFamily(parentEID string, el *Row, pos int) error {
	var err error
	s.update(func() bool {
		parent := s.parent(parentEID)
		if parent == nil {
			err = ErrNotFoundInTree
			return false
		}
		parent.Children = AddToFamily(parent.Children, el, pos)
		s.indexDirty = true
		return true
	})
	return err
}

// ElStartUpdate registers an outgoing write for eid.
func (s *Store) ElStartUpdate(eid string) {
	s.update(func() bool {
		s.saveCounter++
		s.pending++
		s.pendingRows[eid]++
		return true
	})
}

// ElCommit marks one write for eid as confirmed.
func (s *Store) ElCommit(eid string) {
	s.update(func() bool {
		s.settle(eid)
		return true
	})
}

func (s *Store) settle(eid string) {
	if s.pending > 0 {
		s.pending--
	}
	if n := s.pendingRows[eid]; n > 1 {
		s.pendingRows[eid] = n - 1
	} else {
		delete(s.pendingRows, eid)
	}
}

// Saving reports whether any write is in flight.
func (s *Store) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// RowSaving reports whether a write for eid is in flight.
func (s *Store) RowSaving(eid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingRows[eid] > 0
}

// SaveCounter is the number of writes issued since the store was created.
func (s *Store) SaveCounter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCounter
}

// SetTreeError empties the tree and flags a load failure. Recovery needs a
// fresh GetPlan.
func (s *Store) SetTreeError(msg string) {
	s.update(func() bool {
		s.root.Children = nil
		s.name = ""
		s.treeError = true
		s.treeErrorMsg = msg
		s.loadFailed = true
		s.indexDirty = true
		return true
	})
}

// SetWriteError flags a failed write for eid without touching the tree. The
// flag is shared, so the most recent failure wins the message.
func (s *Store) SetWriteError(action string, row ShortRow, msg string, cause error) {
	s.update(func() bool {
		s.settle(row.EID)
		s.treeError = true
		s.treeErrorMsg = msg
		failure := WriteFailure{Action: action, Row: row, Err: msg, At: time.Now()}
		if cause != nil {
			failure.Err = cause.Error()
		}
		s.failures = append(s.failures, failure)
		if len(s.failures) > maxWriteFailures {
			s.failures = s.failures[len(s.failures)-maxWriteFailures:]
		}
		return true
	})
}

func (s *Store) ClearError() {
	s.update(func() bool {
		s.treeError = false
		s.treeErrorMsg = ""
		s.loadFailed = false
		return true
	})
}

func (s *Store) TreeError() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.treeError, s.treeErrorMsg
}

// WriteFailures lists recent rejected writes, oldest first.
func (s *Store) WriteFailures() []WriteFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WriteFailure(nil), s.failures...)
}

func (s *Store) SetAppReady(ready bool) {
	s.update(func() bool {
		s.appReady = ready
		if ready {
			s.loaded = time.Now()
		}
		return true
	})
}

func (s *Store) AppReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appReady
}

// Loaded is the time of the last successful load.
func (s *Store) Loaded() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Store) SetSearch(search string) {
	s.update(func() bool {
		s.search = search
		return true
	})
}

func (s *Store) Search() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.search
}

func (s *Store) SetNavHover(eid string) {
	s.update(func() bool {
		s.navHover = eid
		return true
	})
}

func (s *Store) NavHover() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navHover
}

// SetOpenedByNav records the panel the navigation bar opened and expands it.
func (s *Store) SetOpenedByNav(eid string) {
	s.update(func() bool {
		s.openedByNav = eid
		if r := s.lookup(eid); r != nil {
			r.Opened = true
		}
		return true
	})
}

func (s *Store) OpenedByNav() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openedByNav
}

func (s *Store) SetModal(modal Modal) {
	s.update(func() bool {
		s.modal = modal
		return true
	})
}

func (s *Store) Modal() Modal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modal
}

// Recount recomputes every rollup counter. See Recount.
func (s *Store) Recount() {
	s.update(func() bool {
		Recount(s.root.Children)
		return true
	})
}

// Version increases on every state change.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Watch registers fn to be called after every state change. The returned
// cancel func may be called more than once.
func (s *Store) Watch(fn func(version uint64)) (cancel func()) {
	s.watchMu.Lock()
	s.watchSeq++
	id := s.watchSeq
	s.watchers[id] = fn
	s.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
}

// mutate runs fn against the root under the lock. Compound operations use it
// so the UI never observes a half-applied sequence.
func (s *Store) mutate(fn func(root *Row) bool) bool {
	changed := false
	s.update(func() bool {
		changed = fn(s.root)
		if changed {
			s.indexDirty = true
		}
		return changed
	})
	return changed
}

// read runs fn against the live state under the lock.
func (s *Store) read(fn func(root *Row)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.root)
}

func (s *Store) update(fn func() bool) {
	s.mu.Lock()
	changed := fn()
	if changed {
		s.version++
	}
	version := s.version
	s.mu.Unlock()

	if changed {
		s.notify(version)
	}
}

func (s *Store) notify(version uint64) {
	s.watchMu.Lock()
	fns := make([]func(uint64), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()
	for _, fn := range fns {
		fn(version)
	}
}

func (s *Store) parent(eid string) *Row {
	if eid == "" || eid == RootPID {
		return s.root
	}
	return s.lookup(eid)
}

func (s *Store) lookup(eid string) *Row {
	if s.indexDirty || s.index == nil {
		s.index = make(map[string]*Row)
		Walk(s.root.Children, func(r *Row) { s.index[r.EID] = r })
		s.indexDirty = false
	}
	return s.index[eid]
}
