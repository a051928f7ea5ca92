package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

const maxResponseBytes = 16 << 20

// HTTP talks to POST <endpoint>/api/ajax?action=<action>. Subscriptions
// poll the get action and deliver a snapshot whenever the response changes.
type HTTP struct {
	endpoint     *url.URL
	client       *http.Client
	pollInterval time.Duration
}

func NewHTTP(cfg Config) (*HTTP, error) {
	endpoint, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &HTTP{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: timeout},
		pollInterval: poll,
	}, nil
}

func (h *HTTP) actionURL(action string) string {
	u := *h.endpoint
	u.Path += "/api/ajax"
	u.RawQuery = url.Values{"action": {action}}.Encode()
	return u.String()
}

// call posts body and returns the raw response.
func (h *HTTP) call(ctx context.Context, op, action string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &NetworkError{Op: op, Action: action, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.actionURL(action), bytes.NewReader(payload))
	if err != nil {
		return nil, &NetworkError{Op: op, Action: action, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Action: action, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Op: op, Action: action, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &NetworkError{Op: op, Action: action, Err: fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))}
	}
	return raw, nil
}

func decodeSnapshot(op, action string, raw []byte) (plan.Snapshot, error) {
	var snap plan.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return emptySnapshot(), &NetworkError{Op: op, Action: action, Err: fmt.Errorf("decode snapshot: %w", err)}
	}
	if snap.Root.Children == nil {
		snap.Root.Children = []*plan.Row{}
	}
	return snap, nil
}

func (h *HTTP) Fetch(ctx context.Context, action string, params plan.Params) (plan.Snapshot, error) {
	raw, err := h.call(ctx, "fetch", action, params)
	if err != nil {
		return emptySnapshot(), err
	}
	return decodeSnapshot("fetch", action, raw)
}

func (h *HTTP) Post(ctx context.Context, action string, payload plan.Payload) (plan.PostResult, error) {
	raw, err := h.call(ctx, "post", action, payload)
	if err != nil {
		return rejectedResult, err
	}
	var res plan.PostResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return rejectedResult, &NetworkError{Op: "post", Action: action, Err: fmt.Errorf("decode result: %w", err)}
	}
	if !res.Accepted() {
		return res, ErrRejected
	}
	return res, nil
}

// Subscribe fetches once before returning, so a plan that cannot be loaded
// fails the subscription. Later poll failures keep the last snapshot.
func (h *HTTP) Subscribe(ctx context.Context, action string, params plan.Params, onUpdate func(plan.Snapshot)) (func(), error) {
	raw, err := h.call(ctx, "subscribe", action, params)
	if err != nil {
		return nil, err
	}
	snap, err := decodeSnapshot("subscribe", action, raw)
	if err != nil {
		return nil, err
	}
	onUpdate(snap)

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.poll(pollCtx, action, params, raw, onUpdate)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (h *HTTP) poll(ctx context.Context, action string, params plan.Params, last []byte, onUpdate func(plan.Snapshot)) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		raw, err := h.call(ctx, "poll", action, params)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("gateway: %v", err)
			}
			continue
		}
		if bytes.Equal(raw, last) {
			continue
		}
		snap, err := decodeSnapshot("poll", action, raw)
		if err != nil {
			log.Printf("gateway: %v", err)
			continue
		}
		last = raw
		if ctx.Err() != nil {
			return
		}
		onUpdate(snap)
	}
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
