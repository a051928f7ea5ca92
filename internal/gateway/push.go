package gateway

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

const (
	// PushReadTimeout bounds the silence between server messages, pings
	// included.
	PushReadTimeout = 75 * time.Second
	pushWriteWait   = 10 * time.Second
)

// Push subscribes over GET <endpoint>/api/ws. The server sends the current
// snapshot on connect and again after every change; a dropped connection
// is redialed after the reconnect timeout. Fetch and Post go through the
// request/response endpoint.
type Push struct {
	*HTTP

	wsURL            *url.URL
	dialer           *websocket.Dialer
	reconnectTimeout time.Duration
	readTimeout      time.Duration
}

func NewPush(cfg Config) (*Push, error) {
	h, err := NewHTTP(cfg)
	if err != nil {
		return nil, err
	}
	wsURL := *h.endpoint
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path += "/api/ws"

	reconnect := cfg.ReconnectTimeout
	if reconnect <= 0 {
		reconnect = DefaultReconnectTimeout
	}
	return &Push{
		HTTP:             h,
		wsURL:            &wsURL,
		dialer:           &websocket.Dialer{HandshakeTimeout: h.client.Timeout},
		reconnectTimeout: reconnect,
		readTimeout:      PushReadTimeout,
	}, nil
}

func (p *Push) subscribeURL(action string, params plan.Params) string {
	u := *p.wsURL
	u.RawQuery = url.Values{
		"action":      {action},
		"keyId":       {params.KeyID},
		"plan":        {params.Plan},
		"sessionType": {params.SessionType},
		"owner":       {strconv.FormatInt(params.Owner, 10)},
	}.Encode()
	return u.String()
}

// Subscribe waits for the first snapshot before returning.
func (p *Push) Subscribe(ctx context.Context, action string, params plan.Params, onUpdate func(plan.Snapshot)) (func(), error) {
	target := p.subscribeURL(action, params)
	conn, err := p.dial(ctx, action, target)
	if err != nil {
		return nil, err
	}
	snap, err := p.read(conn, action)
	if err != nil {
		conn.Close()
		return nil, err
	}
	onUpdate(snap)

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.run(subCtx, action, target, conn, onUpdate)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (p *Push) dial(ctx context.Context, action, target string) (*websocket.Conn, error) {
	conn, _, err := p.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, &NetworkError{Op: "subscribe", Action: action, Err: err}
	}
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(p.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(pushWriteWait))
	})
	return conn, nil
}

func (p *Push) read(conn *websocket.Conn, action string) (plan.Snapshot, error) {
	for {
		conn.SetReadDeadline(time.Now().Add(p.readTimeout))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return emptySnapshot(), &NetworkError{Op: "push", Action: action, Err: err}
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return decodeSnapshot("push", action, message)
	}
}

func (p *Push) run(ctx context.Context, action, target string, conn *websocket.Conn, onUpdate func(plan.Snapshot)) {
	for {
		if conn != nil {
			p.readLoop(ctx, action, conn, onUpdate)
			conn.Close()
			conn = nil
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.reconnectTimeout):
		}

		next, err := p.dial(ctx, action, target)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("gateway: reconnect: %v", err)
			}
			continue
		}
		conn = next
	}
}

func (p *Push) readLoop(ctx context.Context, action string, conn *websocket.Conn, onUpdate func(plan.Snapshot)) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		snap, err := p.read(conn, action)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("gateway: %v", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		onUpdate(snap)
	}
}
