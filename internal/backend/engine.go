// Package backend applies plan_<appMode>_<verb> actions to stored plans. It
// is the server half of the gateway contract: fetches return snapshots and
// writes answer {"result":1} or {"result":0}. Positions are maintained with
// the same family operations the client uses, so both sides agree on where
// a row ends up.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/gitrepo"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/pubsub"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/search"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidRequest = errors.New("invalid request")
	ErrForbidden      = errors.New("forbidden")
	ErrRowNotFound    = errors.New("row not found")
	ErrInvalidMove    = errors.New("invalid move")
	// ErrStale rejects a delete of a row that changed after the client
	// loaded the plan.
	ErrStale = errors.New("row changed since the plan was loaded")
)

const templateSuffix = "template"

// Repository is the row storage the engine needs. store.SQLRepository and
// store.MemoryRepository both satisfy it.
type Repository interface {
	GetPlan(ctx context.Context, key string) (store.Plan, error)
	UpsertPlan(ctx context.Context, item store.Plan) error
	ListRows(ctx context.Context, planKey string) ([]store.Row, error)
	GetRow(ctx context.Context, planKey, eid string) (store.Row, error)
	UpsertRows(ctx context.Context, planKey string, items []store.Row) error
	DeleteRows(ctx context.Context, planKey string, eids []string) error
	SearchRows(ctx context.Context, planKey, query string, limit int) ([]store.Row, error)
	Ping(ctx context.Context) error
}

type Options struct {
	// Broker receives a notice after every accepted write. Defaults to an
	// in-process broker.
	Broker pubsub.Broker
	// Search defaults to repository search only.
	Search *search.Service
	// History is optional; nil disables snapshot history.
	History *gitrepo.Service
	Now     func() time.Time
}

type Engine struct {
	repo    Repository
	broker  pubsub.Broker
	search  *search.Service
	history *gitrepo.Service
	now     func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(repo Repository, opts Options) *Engine {
	if opts.Broker == nil {
		opts.Broker = pubsub.NewMemoryBroker()
	}
	if opts.Search == nil {
		opts.Search = search.NewService(nil, search.NewFallback(repo))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		repo:    repo,
		broker:  opts.Broker,
		search:  opts.Search,
		history: opts.History,
		now:     opts.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) Broker() pubsub.Broker {
	return e.broker
}

// Ping checks the repository and the broker concurrently.
func (e *Engine) Ping(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.repo.Ping(ctx); err != nil {
			return fmt.Errorf("repository: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := e.broker.Ping(ctx); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ParseAction splits plan_<appMode>_<verb>.
func ParseAction(action string) (appMode, verb string, err error) {
	rest, ok := strings.CutPrefix(action, "plan_")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	appMode, verb, ok = strings.Cut(rest, "_")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	switch appMode {
	case plan.ModePlan, plan.ModeTemplate, plan.ModeWidget, plan.ModeNamed:
	default:
		return "", "", fmt.Errorf("%w: app mode %q", ErrUnknownAction, appMode)
	}
	switch verb {
	case plan.VerbGet, plan.VerbRowUpdate, plan.VerbRowMove, plan.VerbMoveOut,
		plan.VerbRowDelete, plan.VerbSearch, plan.VerbHistory:
	default:
		return "", "", fmt.Errorf("%w: verb %q", ErrUnknownAction, verb)
	}
	return appMode, verb, nil
}

// PlanKey names the stored plan a request addresses. Template and named
// sessions share one plan per plan id; plan and widget sessions each own an
// instance per key id. An instance session without a key id is an example
// and reads the template.
func PlanKey(appMode string, p plan.Params) (key string, example bool) {
	switch appMode {
	case plan.ModeTemplate:
		return templateKey(p.Plan), false
	case plan.ModeNamed:
		return p.Plan + ":" + plan.ModeNamed, false
	}
	if p.KeyID == "" {
		return templateKey(p.Plan), true
	}
	return p.Plan + ":" + p.KeyID, false
}

func templateKey(planID string) string {
	return planID + ":" + templateSuffix
}

// target is a parsed request.
type target struct {
	appMode string
	verb    string
	key     string
	example bool
	session plan.Session
	mode    plan.GlobalMode
}

func (e *Engine) resolve(action string, p plan.Params) (target, error) {
	appMode, verb, err := ParseAction(action)
	if err != nil {
		return target{}, err
	}
	if strings.TrimSpace(p.Plan) == "" {
		return target{}, fmt.Errorf("%w: plan is required", ErrInvalidRequest)
	}
	key, example := PlanKey(appMode, p)
	session := plan.Session{
		Mode:        appMode,
		SessionType: p.SessionType,
		Owner:       p.Owner,
		PlanID:      p.Plan,
		KeyID:       p.KeyID,
	}
	return target{
		appMode: appMode,
		verb:    verb,
		key:     key,
		example: example,
		session: session,
		mode:    plan.ClassifyMode(session),
	}, nil
}

// hidesHidden reports whether hidden rows are withheld from the app mode.
// Editors need them to unhide.
func hidesHidden(appMode string) bool {
	return appMode == plan.ModePlan || appMode == plan.ModeWidget
}

func (e *Engine) planLock(key string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	lock, ok := e.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	e.locks[key] = lock
	return lock
}

func author(s plan.Session) string {
	kind := s.SessionType
	if kind == "" {
		kind = s.Mode
	}
	if s.Owner == plan.UnsetOwner {
		return kind
	}
	return fmt.Sprintf("%s %d", kind, s.Owner)
}
