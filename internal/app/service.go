package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/backend"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/export"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/gitrepo"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/search"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Service is what the HTTP layer serves: the plan engine plus export and
// the search health it reports on.
type Service struct {
	engine   *backend.Engine
	exporter *export.Service
	search   *search.Service
	started  time.Time
}

func NewService(engine *backend.Engine, searchSvc *search.Service) *Service {
	return &Service{
		engine:   engine,
		exporter: export.NewService(engine),
		search:   searchSvc,
		started:  time.Now(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.engine.Ping(ctx)
}

// SearchHealthy reports whether the primary search index is up. Search
// still answers from the repository when it is not.
func (s *Service) SearchHealthy() bool {
	return s.search != nil && s.search.Healthy()
}

func (s *Service) Fetch(ctx context.Context, action string, params plan.Params) (plan.Snapshot, error) {
	return s.engine.Fetch(ctx, action, params)
}

func (s *Service) Post(ctx context.Context, action string, payload plan.Payload) (plan.PostResult, error) {
	return s.engine.Post(ctx, action, payload)
}

func (s *Service) Subscribe(ctx context.Context, action string, params plan.Params, onUpdate func(plan.Snapshot)) (func(), error) {
	return s.engine.Subscribe(ctx, action, params, onUpdate)
}

func (s *Service) Search(ctx context.Context, action string, params plan.Params, query string) (search.Response, error) {
	return s.engine.Search(ctx, action, params, query)
}

func (s *Service) History(ctx context.Context, action string, params plan.Params, limit int) ([]gitrepo.CommitInfo, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.engine.History(ctx, action, params, limit)
}

func (s *Service) Revision(ctx context.Context, action string, params plan.Params, hash string) (plan.Snapshot, error) {
	if hash == "" {
		return plan.Snapshot{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "hash is required", nil)
	}
	return s.engine.Revision(ctx, action, params, hash)
}

func (s *Service) Compare(ctx context.Context, action string, params plan.Params, from, to string) ([]gitrepo.RowChange, error) {
	if from == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "from is required", nil)
	}
	return s.engine.Compare(ctx, action, params, from, to)
}

// Export renders the plan a get action reads.
func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	_, verb, err := backend.ParseAction(req.Action)
	if err != nil {
		return nil, err
	}
	if verb != plan.VerbGet {
		return nil, fmt.Errorf("%w: export reads with a get action", backend.ErrInvalidRequest)
	}
	return s.exporter.Export(ctx, req)
}

func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}
