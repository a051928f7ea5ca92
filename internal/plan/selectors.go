package plan

import "sync"

// Session modes as configured by the host page.
const (
	ModePlan     = "plan"
	ModeTemplate = "template"
	ModeWidget   = "widget"
	ModeNamed    = "named"
	ModeViewonly = "viewonly"
)

// Session types.
const (
	SessionClient     = "client"
	SessionAmbassador = "ambassador"
	SessionExample    = "example"
	SessionViewonly   = "viewonly"
)

// GlobalMode is the derived session classification every permission check
// starts from.
type GlobalMode string

const (
	GlobalNone              GlobalMode = ""
	GlobalWidget            GlobalMode = "widget"
	GlobalClient            GlobalMode = "client"
	GlobalClientExample     GlobalMode = "clientExample"
	GlobalAmbassador        GlobalMode = "ambassador"
	GlobalAmbassadorExample GlobalMode = "ambassadorExample"
	GlobalTemplate          GlobalMode = "template"
	GlobalTemplateExample   GlobalMode = "templateExample"
	GlobalNamedViewonly     GlobalMode = "namedViewonly"
	GlobalViewonly          GlobalMode = "viewonly"
)

type modeRule struct {
	mode GlobalMode
	when func(s Session) bool
}

// modeRules is evaluated top to bottom and the first match wins. Order
// matters: example sessions must be caught before their editable
// counterparts, and viewonly session types override the mode.
var modeRules = []modeRule{
	{GlobalWidget, func(s Session) bool { return s.Mode == ModeWidget }},
	{GlobalViewonly, func(s Session) bool { return s.Mode == ModeViewonly || s.SessionType == SessionViewonly }},
	{GlobalTemplateExample, func(s Session) bool { return s.Mode == ModeTemplate && s.SessionType == SessionExample }},
	{GlobalTemplate, func(s Session) bool { return s.Mode == ModeTemplate }},
	{GlobalNamedViewonly, func(s Session) bool { return s.Mode == ModeNamed && s.Owner == UnsetOwner }},
	{GlobalAmbassador, func(s Session) bool { return s.Mode == ModeNamed }},
	{GlobalClientExample, func(s Session) bool { return s.SessionType == SessionClient && s.KeyID == "" }},
	{GlobalClient, func(s Session) bool { return s.SessionType == SessionClient }},
	{GlobalAmbassadorExample, func(s Session) bool { return s.SessionType == SessionAmbassador && s.KeyID == "" }},
	{GlobalAmbassador, func(s Session) bool { return s.SessionType == SessionAmbassador }},
	{GlobalViewonly, func(s Session) bool { return s.Owner == UnsetOwner && s.KeyID == "" }},
}

// ClassifyMode maps a session onto its global mode.
func ClassifyMode(s Session) GlobalMode {
	for _, rule := range modeRules {
		if rule.when(s) {
			return rule.mode
		}
	}
	return GlobalNone
}

// AppModeOf is the backend namespace for a session mode.
func AppModeOf(mode string) string {
	switch mode {
	case ModeTemplate, ModeWidget, ModeNamed:
		return mode
	default:
		return ModePlan
	}
}

// NavStep is one entry of the navigation bar.
type NavStep struct {
	EID         string  `json:"eid"`
	Name        string  `json:"name"`
	DoneTasks   int     `json:"doneTasks"`
	TotalTasks  int     `json:"totalTasks"`
	WhatsNext   int     `json:"whatsNext"`
	DonePercent float64 `json:"donePercent"`
	WNPercent   float64 `json:"wnPercent"`
	Hovered     bool    `json:"hovered,omitempty"`
}

// NavSteps lists visible top-level panels that contain at least one task.
func NavSteps(family []*Row, hover string) []NavStep {
	steps := make([]NavStep, 0, len(family))
	for _, r := range family {
		if r == nil || r.Type != TypePanel || !r.Visible || r.TotalTasks <= 0 {
			continue
		}
		total := float64(r.TotalTasks)
		steps = append(steps, NavStep{
			EID:         r.EID,
			Name:        r.Name,
			DoneTasks:   r.DoneTasks,
			TotalTasks:  r.TotalTasks,
			WhatsNext:   r.EnabledWhatsNextCount,
			DonePercent: float64(r.DoneTasks) / total,
			WNPercent:   float64(r.EnabledWhatsNextCount) / total,
			Hovered:     r.EID == hover,
		})
	}
	return steps
}

// Selectors memoizes derived views per store version.
type Selectors struct {
	store *Store

	mu          sync.Mutex
	navVersion  uint64
	nav         []NavStep
	modeSession Session
	mode        GlobalMode
	modeSet     bool
}

func NewSelectors(store *Store) *Selectors {
	return &Selectors{store: store}
}

func (sel *Selectors) NavSteps() []NavStep {
	sel.mu.Lock()
	defer sel.mu.Unlock()

	var (
		version uint64
		steps   []NavStep
	)
	sel.store.mu.Lock()
	version = sel.store.version
	if sel.nav != nil && sel.navVersion == version {
		sel.store.mu.Unlock()
		return append([]NavStep(nil), sel.nav...)
	}
	steps = NavSteps(sel.store.root.Children, sel.store.navHover)
	sel.store.mu.Unlock()

	sel.nav, sel.navVersion = steps, version
	return append([]NavStep(nil), steps...)
}

func (sel *Selectors) GlobalMode() GlobalMode {
	session := sel.store.Session()

	sel.mu.Lock()
	defer sel.mu.Unlock()
	if sel.modeSet && sel.modeSession == session {
		return sel.mode
	}
	sel.mode, sel.modeSession, sel.modeSet = ClassifyMode(session), session, true
	return sel.mode
}

func (sel *Selectors) AppMode() string {
	return AppModeOf(sel.store.Session().Mode)
}

// Permissions computes the capability bundle for one row.
func (sel *Selectors) Permissions(eid string) (Capabilities, bool) {
	mode := sel.GlobalMode()
	session := sel.store.Session()
	r, ok := sel.store.Find(eid)
	if !ok {
		return Capabilities{}, false
	}
	return Permissions(mode, session, r), true
}
