package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/backend"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
)

// Local runs the backend engine in-process.
type Local struct {
	engine *backend.Engine
	db     *sql.DB
}

func NewLocal(engine *backend.Engine) *Local {
	return &Local{engine: engine}
}

// OpenLocal builds a local gateway over the repository named by
// databaseURL, applying migrations to SQL databases.
func OpenLocal(ctx context.Context, databaseURL string) (*Local, error) {
	if databaseURL == "" || strings.HasPrefix(databaseURL, "memory://") {
		return NewLocal(backend.New(store.NewMemoryRepository(), backend.Options{})), nil
	}
	db, dialect, err := store.Open(ctx, databaseURL)
	if err != nil {
		return nil, &ConfigurationError{Setting: "database", Reason: err.Error()}
	}
	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	l := NewLocal(backend.New(store.NewSQLRepository(db, dialect), backend.Options{}))
	l.db = db
	return l, nil
}

func (l *Local) Fetch(ctx context.Context, action string, params plan.Params) (plan.Snapshot, error) {
	snap, err := l.engine.Fetch(ctx, action, params)
	if err != nil {
		return emptySnapshot(), &NetworkError{Op: "fetch", Action: action, Err: err}
	}
	return snap, nil
}

func (l *Local) Post(ctx context.Context, action string, payload plan.Payload) (plan.PostResult, error) {
	res, err := l.engine.Post(ctx, action, payload)
	if err != nil {
		return rejectedResult, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return res, nil
}

func (l *Local) Subscribe(ctx context.Context, action string, params plan.Params, onUpdate func(plan.Snapshot)) (func(), error) {
	cancel, err := l.engine.Subscribe(ctx, action, params, onUpdate)
	if err != nil {
		return nil, &NetworkError{Op: "subscribe", Action: action, Err: err}
	}
	return cancel, nil
}

func (l *Local) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
