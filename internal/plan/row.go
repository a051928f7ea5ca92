// Package plan implements the plan tree: the row model, sibling ordering,
// the tree store with its mutation primitives, the sync layer that mirrors
// local edits to a gateway, and the read-only selectors the UI consumes.
package plan

// RowType is the closed set of row kinds. A row's type never changes.
type RowType string

const (
	TypeRoot     RowType = "root"
	TypePanel    RowType = "panel"
	TypeText     RowType = "text"
	TypeCheckbox RowType = "checkbox"
	TypeLink     RowType = "link"
	TypeComment  RowType = "comment"
)

func (t RowType) Valid() bool {
	switch t {
	case TypePanel, TypeText, TypeCheckbox, TypeLink, TypeComment:
		return true
	}
	return false
}

// Checked is overloaded per row type: a task state for checkboxes and an
// unread flag for links and comments.
type Checked int

const (
	CheckedNew  Checked = 0
	CheckedDone Checked = 1
	CheckedNext Checked = 2

	Read   Checked = 0
	Unread Checked = 1
)

const (
	RootPID = "root"

	// UnsetOwner marks a session with no owner id.
	UnsetOwner int64 = -1
)

type Row struct {
	EID  string  `json:"eid"`
	PID  string  `json:"pid"`
	Pos  int     `json:"pos"`
	Type RowType `json:"type"`

	Name        string  `json:"name"`
	Tooltip     string  `json:"tooltip"`
	Link        string  `json:"link"`
	NewWindow   bool    `json:"new_window"`
	Video       string  `json:"video"`
	VideoScript string  `json:"video_script"`
	Date        *string `json:"date"`

	Checked Checked `json:"checked"`
	Visible bool    `json:"visible"`
	Owner   int64   `json:"owner"`

	Children []*Row `json:"children,omitempty"`

	// Local view state, never sent upstream.
	Opened             bool `json:"opened,omitempty"`
	Edit               bool `json:"edit,omitempty"`
	VideoEdit          bool `json:"videoEdit,omitempty"`
	HighlightedName    bool `json:"highlightedName,omitempty"`
	HighlightedTooltip bool `json:"highlightedTooltip,omitempty"`
	HighlightedVideo   bool `json:"highlightedVideo,omitempty"`
	FilterMatch        bool `json:"filterMatch,omitempty"`

	Counters
}

// Counters are rollups recomputed from descendants by Recount.
type Counters struct {
	CommentsCount         int `json:"commentsCount,omitempty"`
	UnreadCommentsCount   int `json:"unreadCommentsCount,omitempty"`
	EnabledWhatsNextCount int `json:"enabledWhatsNextCount,omitempty"`
	DoneTasks             int `json:"doneTasks,omitempty"`
	TotalTasks            int `json:"totalTasks,omitempty"`

	LocalEnabledWhatsNextCount int `json:"localEnabledWhatsNextCount,omitempty"`
	LocalDoneTasks             int `json:"localDoneTasks,omitempty"`
	LocalTotalTasks            int `json:"localTotalTasks,omitempty"`
}

// ShortRow is the transport form of a Row: no children, no view state and
// no rollups.
type ShortRow struct {
	EID         string  `json:"eid"`
	PID         string  `json:"pid"`
	Pos         int     `json:"pos"`
	Type        RowType `json:"type"`
	Name        string  `json:"name"`
	Tooltip     string  `json:"tooltip"`
	Link        string  `json:"link"`
	NewWindow   bool    `json:"new_window"`
	Video       string  `json:"video"`
	VideoScript string  `json:"video_script"`
	Date        *string `json:"date"`
	Checked     Checked `json:"checked"`
	Visible     bool    `json:"visible"`
	Owner       int64   `json:"owner"`
}

func (r *Row) Short() ShortRow {
	return ShortRow{
		EID:         r.EID,
		PID:         r.PID,
		Pos:         r.Pos,
		Type:        r.Type,
		Name:        r.Name,
		Tooltip:     r.Tooltip,
		Link:        r.Link,
		NewWindow:   r.NewWindow,
		Video:       r.Video,
		VideoScript: r.VideoScript,
		Date:        copyDate(r.Date),
		Checked:     r.Checked,
		Visible:     r.Visible,
		Owner:       r.Owner,
	}
}

// Row expands a short row back into a childless Row.
func (s ShortRow) Row() *Row {
	return &Row{
		EID:         s.EID,
		PID:         s.PID,
		Pos:         s.Pos,
		Type:        s.Type,
		Name:        s.Name,
		Tooltip:     s.Tooltip,
		Link:        s.Link,
		NewWindow:   s.NewWindow,
		Video:       s.Video,
		VideoScript: s.VideoScript,
		Date:        copyDate(s.Date),
		Checked:     s.Checked,
		Visible:     s.Visible,
		Owner:       s.Owner,
	}
}

// Clone deep-copies a row and its subtree.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	out := *r
	out.Date = copyDate(r.Date)
	out.Children = CloneFamily(r.Children)
	return &out
}

func CloneFamily(family []*Row) []*Row {
	if family == nil {
		return nil
	}
	out := make([]*Row, len(family))
	for i, child := range family {
		out[i] = child.Clone()
	}
	return out
}

func copyDate(d *string) *string {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// Snapshot is a full tree payload as delivered by fetch and subscribe.
type Snapshot struct {
	Name string       `json:"name,omitempty"`
	Root SnapshotRoot `json:"root"`
}

type SnapshotRoot struct {
	Children []*Row `json:"children"`
}

func (s Snapshot) Empty() bool {
	return len(s.Root.Children) == 0
}
