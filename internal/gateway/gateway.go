// Package gateway provides the transports the sync layer talks to: an
// in-process backend, the legacy request/response endpoint with polling,
// and a websocket push channel. Transport failures come back as typed
// errors next to an empty snapshot or a rejected result; nothing panics
// into the caller.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

// ErrRejected reports a write the backend answered with result 0.
var ErrRejected = errors.New("backend rejected the write")

// ConfigurationError means the gateway cannot be used as configured, for
// example a missing or malformed endpoint.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("gateway configuration: %s: %s", e.Setting, e.Reason)
}

// NetworkError wraps a failed round trip.
type NetworkError struct {
	Op     string
	Action string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway %s %s: %v", e.Op, e.Action, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type Kind string

const (
	KindLocal Kind = "local"
	KindHTTP  Kind = "http"
	KindPush  Kind = "push"
)

const (
	DefaultPollInterval     = 15 * time.Second
	DefaultRequestTimeout   = 20 * time.Second
	DefaultReconnectTimeout = 5 * time.Second
)

type Config struct {
	Kind Kind
	// Endpoint is the backend base URL for http and push.
	Endpoint string
	// DatabaseURL backs the local gateway. Empty or memory:// keeps rows in
	// memory; sqlite:// and postgres:// URLs persist them.
	DatabaseURL      string
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	ReconnectTimeout time.Duration
}

// Gateway is a plan.Gateway that owns resources.
type Gateway interface {
	plan.Gateway
	Close() error
}

// New picks the transport named by cfg.Kind. An empty kind selects http
// when an endpoint is set and local otherwise.
func New(ctx context.Context, cfg Config) (Gateway, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = KindLocal
		if strings.TrimSpace(cfg.Endpoint) != "" {
			kind = KindHTTP
		}
	}

	switch kind {
	case KindLocal:
		return OpenLocal(ctx, cfg.DatabaseURL)
	case KindHTTP:
		return NewHTTP(cfg)
	case KindPush:
		return NewPush(cfg)
	default:
		return nil, &ConfigurationError{Setting: "kind", Reason: fmt.Sprintf("unknown gateway %q", kind)}
	}
}

func parseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ConfigurationError{Setting: "endpoint", Reason: "not set"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ConfigurationError{Setting: "endpoint", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ConfigurationError{Setting: "endpoint", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return nil, &ConfigurationError{Setting: "endpoint", Reason: "missing host"}
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

// emptySnapshot is what a failed fetch degrades to.
func emptySnapshot() plan.Snapshot {
	return plan.Snapshot{Root: plan.SnapshotRoot{Children: []*plan.Row{}}}
}

var rejectedResult = plan.PostResult{Result: 0}
