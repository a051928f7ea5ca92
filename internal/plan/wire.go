package plan

import (
	"context"
	"fmt"
	"time"
)

// Backend action verbs. The full action name is plan_<appMode>_<verb>.
const (
	VerbGet       = "get"
	VerbRowUpdate = "row_update"
	VerbRowMove   = "row_move"
	VerbMoveOut   = "row_move_out"
	VerbRowDelete = "row_delete"
	VerbSearch    = "search"
	VerbHistory   = "history"

	ActionTemplateGet = "plan_template_get"
)

// Action builds the backend action name for an app mode.
func Action(appMode, verb string) string {
	return fmt.Sprintf("plan_%s_%s", appMode, verb)
}

// Params identify the plan a request is about.
type Params struct {
	KeyID       string `json:"keyId"`
	Plan        string `json:"plan"`
	SessionType string `json:"sessionType"`
	Owner       int64  `json:"owner"`
}

// Payload is the body of a write.
type Payload struct {
	Params
	Row    *ShortRow `json:"row,omitempty"`
	EID    string    `json:"eid,omitempty"`
	Loaded int64     `json:"loaded,omitempty"`
	Query  string    `json:"query,omitempty"`
}

// PostResult is the backend's verdict on a write: 1 accepted, 0 rejected.
type PostResult struct {
	Result int      `json:"result"`
	EIDs   []string `json:"eids,omitempty"`
}

func (r PostResult) Accepted() bool {
	return r.Result == 1
}

// Gateway is the transport the sync layer talks to. Implementations turn
// transport failures into errors; they never panic into the caller.
type Gateway interface {
	Fetch(ctx context.Context, action string, params Params) (Snapshot, error)
	Post(ctx context.Context, action string, payload Payload) (PostResult, error)
	// Subscribe delivers one or more snapshots to onUpdate until the returned
	// func is called. The cancel func is safe to call repeatedly.
	Subscribe(ctx context.Context, action string, params Params, onUpdate func(Snapshot)) (func(), error)
}

func ParamsFor(s Session) Params {
	return Params{
		KeyID:       s.KeyID,
		Plan:        s.PlanID,
		SessionType: s.SessionType,
		Owner:       s.Owner,
	}
}

// LoadedStamp converts a load time to the millisecond stamp sent with
// deletes.
func LoadedStamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
