package rbac

import "github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
)

const (
	ActionRead Action = "read"
	// ActionComment covers comment and link rows the session authors.
	ActionComment Action = "comment"
	// ActionCheck changes a checkbox row's task state.
	ActionCheck Action = "check"
	// ActionWrite covers panel, text and checkbox structure and content.
	ActionWrite Action = "write"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionCheck || action == ActionWrite
	case RoleCommenter:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// RoleForMode maps a session's global mode onto a server-side role.
func RoleForMode(mode plan.GlobalMode) Role {
	switch {
	case plan.StructureEditor(mode):
		return RoleEditor
	case mode == plan.GlobalClient:
		return RoleCommenter
	default:
		return RoleViewer
	}
}

// ActionFor is the action needed to write a row of type t. Changes that only
// touch a checkbox's task state need ActionCheck.
func ActionFor(t plan.RowType, checkOnly bool) Action {
	switch {
	case t == plan.TypeComment || t == plan.TypeLink:
		return ActionComment
	case t == plan.TypeCheckbox && checkOnly:
		return ActionCheck
	default:
		return ActionWrite
	}
}
