package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMode(t *testing.T) {
	cases := []struct {
		name    string
		session Session
		want    GlobalMode
	}{
		{"widget wins over viewonly type", Session{Mode: ModeWidget, SessionType: SessionViewonly}, GlobalWidget},
		{"viewonly mode", Session{Mode: ModeViewonly, SessionType: SessionAmbassador, KeyID: "k"}, GlobalViewonly},
		{"viewonly session type", Session{Mode: ModePlan, SessionType: SessionViewonly, KeyID: "k"}, GlobalViewonly},
		{"template example", Session{Mode: ModeTemplate, SessionType: SessionExample}, GlobalTemplateExample},
		{"template", Session{Mode: ModeTemplate, SessionType: SessionAmbassador}, GlobalTemplate},
		{"named without owner", Session{Mode: ModeNamed, Owner: UnsetOwner}, GlobalNamedViewonly},
		{"named with owner", Session{Mode: ModeNamed, Owner: 3}, GlobalAmbassador},
		{"client example", Session{Mode: ModePlan, SessionType: SessionClient}, GlobalClientExample},
		{"client", Session{Mode: ModePlan, SessionType: SessionClient, KeyID: "k"}, GlobalClient},
		{"ambassador example", Session{Mode: ModePlan, SessionType: SessionAmbassador}, GlobalAmbassadorExample},
		{"ambassador", Session{Mode: ModePlan, SessionType: SessionAmbassador, KeyID: "k"}, GlobalAmbassador},
		{"anonymous", Session{Mode: ModePlan, Owner: UnsetOwner}, GlobalViewonly},
		{"unclassified", Session{Mode: ModePlan, Owner: 1, KeyID: "k"}, GlobalNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyMode(tc.session))
		})
	}
}

func TestAppModeOf(t *testing.T) {
	assert.Equal(t, ModeTemplate, AppModeOf(ModeTemplate))
	assert.Equal(t, ModeNamed, AppModeOf(ModeNamed))
	assert.Equal(t, ModePlan, AppModeOf(ModeViewonly))
	assert.Equal(t, ModePlan, AppModeOf(""))
	assert.Equal(t, "plan_widget_row_move_out", Action(AppModeOf(ModeWidget), VerbMoveOut))
}

func TestNavStepsSkipsHiddenAndEmptyPanels(t *testing.T) {
	tree := samplePlan().Root.Children
	tree = append(tree, &Row{EID: "p3", PID: RootPID, Pos: 2, Type: TypePanel, Visible: false, Children: []*Row{
		{EID: "h1", PID: "p3", Type: TypeCheckbox, Visible: true},
	}})
	tree[0].Children[1].Checked = CheckedNext
	Recount(tree)

	steps := NavSteps(tree, "p1")
	if assert.Len(t, steps, 1) {
		assert.Equal(t, "p1", steps[0].EID)
		assert.InDelta(t, 0.5, steps[0].DonePercent, 1e-9)
		assert.InDelta(t, 0.5, steps[0].WNPercent, 1e-9)
		assert.True(t, steps[0].Hovered)
	}
}

func TestSelectorsMemoizeByVersion(t *testing.T) {
	store := NewStore(ambassadorSession())
	store.ApplySnapshot(samplePlan())
	sel := NewSelectors(store)

	first := sel.NavSteps()
	first[0].Name = "scribbled"
	assert.Equal(t, "Article 2: Disclosure", sel.NavSteps()[0].Name)

	store.UpdateElementLocal("p1", SetVisible(false))
	store.Recount()
	assert.Empty(t, sel.NavSteps())

	assert.Equal(t, GlobalAmbassador, sel.GlobalMode())
	store.SetSession(Session{Mode: ModeTemplate})
	assert.Equal(t, GlobalTemplate, sel.GlobalMode())
	assert.Equal(t, ModeTemplate, sel.AppMode())
}

func TestPermissions(t *testing.T) {
	owner := ambassadorSession()
	other := owner
	other.Owner = 99

	comment := &Row{EID: "m", Type: TypeComment, Owner: owner.Owner, Visible: true}
	caps := Permissions(GlobalAmbassador, owner, comment)
	assert.True(t, caps.OwnsRow)
	assert.True(t, caps.CanEdit)
	assert.True(t, caps.CanDelete)
	assert.False(t, caps.CanHide)
	assert.False(t, caps.CanAdd)

	caps = Permissions(GlobalAmbassador, other, comment)
	assert.False(t, caps.CanEdit)
	assert.False(t, caps.CanDelete)

	done := &Row{EID: "c", Type: TypeCheckbox, Checked: CheckedDone, Visible: true}
	caps = Permissions(GlobalTemplate, owner, done)
	assert.True(t, caps.Locked)
	assert.False(t, caps.CanEdit)
	assert.False(t, caps.CanDelete)

	panel := &Row{EID: "p", Type: TypePanel, Visible: true, Counters: Counters{DoneTasks: 1}}
	caps = Permissions(GlobalAmbassador, owner, panel)
	assert.True(t, caps.HasFinishedChildren)
	assert.True(t, caps.CanEdit)
	assert.False(t, caps.CanDelete)
	assert.True(t, caps.CanHide)
	assert.True(t, caps.CanAdd)

	caps = Permissions(GlobalViewonly, owner, panel)
	assert.False(t, caps.CanEdit)
	assert.False(t, caps.CanAdd)

	caps = Permissions(GlobalClient, owner, &Row{EID: "p", Type: TypePanel, Visible: true})
	assert.False(t, caps.CanEdit)
	assert.True(t, caps.CanAdd)
}

func TestCanCycle(t *testing.T) {
	box := &Row{Type: TypeCheckbox, Visible: true}
	plan := Session{Mode: ModePlan}

	assert.True(t, CanCycle(GlobalAmbassador, plan, box))
	assert.False(t, CanCycle(GlobalClient, plan, box))
	assert.False(t, CanCycle(GlobalNamedViewonly, plan, box))
	assert.False(t, CanCycle(GlobalTemplate, Session{Mode: ModeTemplate}, box))
	assert.False(t, CanCycle(GlobalAmbassador, plan, &Row{Type: TypeCheckbox}))
	assert.False(t, CanCycle(GlobalAmbassador, plan, &Row{Type: TypeText, Visible: true}))
}

func TestNextChecked(t *testing.T) {
	c := CheckedNew
	c = NextChecked(c)
	assert.Equal(t, CheckedNext, c)
	c = NextChecked(c)
	assert.Equal(t, CheckedDone, c)
	assert.Equal(t, CheckedNew, NextChecked(c))
}
