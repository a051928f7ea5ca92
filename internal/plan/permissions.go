package plan

// Capabilities is what the toolbar may offer for one row.
type Capabilities struct {
	CanEdit   bool `json:"canEdit"`
	CanDelete bool `json:"canDelete"`
	CanHide   bool `json:"canHide"`
	CanCycle  bool `json:"canCycle"`
	CanAdd    bool `json:"canAdd"`

	// Locked is set on checkbox rows already marked done or next.
	Locked bool `json:"locked"`
	// HasUnresolvedComments and HasFinishedChildren both block deletion.
	HasUnresolvedComments bool `json:"hasUnresolvedComments"`
	HasFinishedChildren   bool `json:"hasFinishedChildren"`
	// OwnsRow is set when the session authored this comment or link.
	OwnsRow bool `json:"ownsRow"`
}

// StructureEditor reports whether the mode may edit panels, text and tasks.
func StructureEditor(mode GlobalMode) bool {
	switch mode {
	case GlobalTemplate, GlobalWidget, GlobalAmbassador:
		return true
	}
	return false
}

// ReadOnly reports whether the mode may not write anything at all.
func ReadOnly(mode GlobalMode) bool {
	switch mode {
	case GlobalViewonly, GlobalNamedViewonly, GlobalNone,
		GlobalClientExample, GlobalAmbassadorExample, GlobalTemplateExample:
		return true
	}
	return false
}

// CanCycle reports whether a checkbox row may change task state.
func CanCycle(mode GlobalMode, session Session, r *Row) bool {
	if r == nil || r.Type != TypeCheckbox || !r.Visible {
		return false
	}
	switch mode {
	case GlobalClient, GlobalViewonly, GlobalNamedViewonly:
		return false
	}
	return AppModeOf(session.Mode) != ModeTemplate
}

// Permissions combines the global mode with the row's own state.
func Permissions(mode GlobalMode, session Session, r *Row) Capabilities {
	caps := Capabilities{
		Locked:                r.Type == TypeCheckbox && r.Checked != CheckedNew,
		HasUnresolvedComments: r.UnreadCommentsCount > 0,
		HasFinishedChildren:   r.DoneTasks > 0 || r.EnabledWhatsNextCount > 0,
		OwnsRow:               (r.Type == TypeComment || r.Type == TypeLink) && session.Owner != UnsetOwner && r.Owner == session.Owner,
		CanCycle:              CanCycle(mode, session, r),
	}
	if ReadOnly(mode) {
		return caps
	}

	blocked := caps.HasUnresolvedComments || caps.HasFinishedChildren
	switch r.Type {
	case TypeComment, TypeLink:
		caps.CanEdit = caps.OwnsRow
		caps.CanDelete = caps.OwnsRow && !blocked
		caps.CanHide = StructureEditor(mode) && r.Type == TypeLink
	default:
		if StructureEditor(mode) {
			caps.CanEdit = !caps.Locked
			caps.CanDelete = !caps.Locked && !blocked
			caps.CanHide = true
		}
	}
	caps.CanAdd = r.Type != TypeComment && (StructureEditor(mode) || mode == GlobalClient)
	return caps
}
