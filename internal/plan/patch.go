package plan

import "fmt"

// Patch is one field assignment on a row. A list of patches is applied as a
// single atomic update. No variant can change a row's type.
type Patch interface {
	apply(*Row)
	// Transient reports whether the field is local view state that never
	// needs a backend write.
	Transient() bool
	fmt.Stringer
}

type (
	SetName        string
	SetTooltip     string
	SetLink        string
	SetNewWindow   bool
	SetVideo       string
	SetVideoScript string
	SetDate        struct{ Value *string }
	SetChecked     Checked
	SetVisible     bool
	SetPos         int
	SetPID         string
	SetOwner       int64
	SetOpened      bool
	SetEdit        bool
	SetVideoEdit   bool
)

func (p SetName) apply(r *Row)        { r.Name = string(p) }
func (p SetTooltip) apply(r *Row)     { r.Tooltip = string(p) }
func (p SetLink) apply(r *Row)        { r.Link = string(p) }
func (p SetNewWindow) apply(r *Row)   { r.NewWindow = bool(p) }
func (p SetVideo) apply(r *Row)       { r.Video = string(p) }
func (p SetVideoScript) apply(r *Row) { r.VideoScript = string(p) }
func (p SetDate) apply(r *Row)        { r.Date = copyDate(p.Value) }
func (p SetChecked) apply(r *Row)     { r.Checked = Checked(p) }
func (p SetVisible) apply(r *Row)     { r.Visible = bool(p) }
func (p SetPos) apply(r *Row)         { r.Pos = int(p) }
func (p SetPID) apply(r *Row)         { r.PID = string(p) }
func (p SetOwner) apply(r *Row)       { r.Owner = int64(p) }
func (p SetOpened) apply(r *Row)      { r.Opened = bool(p) }
func (p SetEdit) apply(r *Row)        { r.Edit = bool(p) }
func (p SetVideoEdit) apply(r *Row)   { r.VideoEdit = bool(p) }

func (SetName) Transient() bool        { return false }
func (SetTooltip) Transient() bool     { return false }
func (SetLink) Transient() bool        { return false }
func (SetNewWindow) Transient() bool   { return false }
func (SetVideo) Transient() bool       { return false }
func (SetVideoScript) Transient() bool { return false }
func (SetDate) Transient() bool        { return false }
func (SetChecked) Transient() bool     { return false }
func (SetVisible) Transient() bool     { return false }
func (SetPos) Transient() bool         { return false }
func (SetPID) Transient() bool         { return false }
func (SetOwner) Transient() bool       { return false }
func (SetOpened) Transient() bool      { return true }
func (SetEdit) Transient() bool        { return true }
func (SetVideoEdit) Transient() bool   { return true }

func (p SetName) String() string        { return fmt.Sprintf("name=%q", string(p)) }
func (p SetTooltip) String() string     { return fmt.Sprintf("tooltip=%q", string(p)) }
func (p SetLink) String() string        { return fmt.Sprintf("link=%q", string(p)) }
func (p SetNewWindow) String() string   { return fmt.Sprintf("new_window=%t", bool(p)) }
func (p SetVideo) String() string       { return fmt.Sprintf("video=%q", string(p)) }
func (p SetVideoScript) String() string { return fmt.Sprintf("video_script=%q", string(p)) }
func (p SetChecked) String() string     { return fmt.Sprintf("checked=%d", int(p)) }
func (p SetVisible) String() string     { return fmt.Sprintf("visible=%t", bool(p)) }
func (p SetPos) String() string         { return fmt.Sprintf("pos=%d", int(p)) }
func (p SetPID) String() string         { return fmt.Sprintf("pid=%s", string(p)) }
func (p SetOwner) String() string       { return fmt.Sprintf("owner=%d", int64(p)) }
func (p SetOpened) String() string      { return fmt.Sprintf("opened=%t", bool(p)) }
func (p SetEdit) String() string        { return fmt.Sprintf("edit=%t", bool(p)) }
func (p SetVideoEdit) String() string   { return fmt.Sprintf("videoEdit=%t", bool(p)) }

func (p SetDate) String() string {
	if p.Value == nil {
		return "date=null"
	}
	return fmt.Sprintf("date=%q", *p.Value)
}

// Apply runs every patch against r in order.
func Apply(r *Row, patches ...Patch) {
	for _, p := range patches {
		if p != nil {
			p.apply(r)
		}
	}
}

// OnlyTransient reports whether a patch list touches view state only.
func OnlyTransient(patches []Patch) bool {
	for _, p := range patches {
		if p != nil && !p.Transient() {
			return false
		}
	}
	return true
}

// splitStructural pulls SetPos and SetPID out of patches. Position and
// parent only change through the family operations, never as field writes.
func splitStructural(patches []Patch) (pos *int, pid *string, rest []Patch) {
	for _, p := range patches {
		switch v := p.(type) {
		case SetPos:
			n := int(v)
			pos = &n
		case SetPID:
			id := string(v)
			pid = &id
		default:
			rest = append(rest, p)
		}
	}
	return pos, pid, rest
}

func touchesChecked(patches []Patch) bool {
	for _, p := range patches {
		switch p.(type) {
		case SetChecked, SetVisible:
			return true
		}
	}
	return false
}
