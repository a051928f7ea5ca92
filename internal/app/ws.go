package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/backend"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
)

func (s *HTTPServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 32 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || s.corsOrigin == "*" {
				return true
			}
			return strings.EqualFold(origin, s.corsOrigin) || strings.Contains(origin, "://"+r.Host)
		},
	}
}

// handleWS pushes the addressed plan's snapshot on connect and again after
// every accepted write. The client only answers pings.
func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params, err := paramsFromQuery(query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	action := strings.TrimSpace(query.Get("action"))
	_, verb, err := backend.ParseAction(action)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if verb != plan.VerbGet {
		writeError(w, http.StatusBadRequest, "INVALID_ACTION", "subscriptions take a get action", nil)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("app: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan plan.Snapshot, 1)
	unsubscribe, err := s.service.Subscribe(ctx, action, params, func(snap plan.Snapshot) {
		offerLatest(updates, snap)
	})
	if err != nil {
		_, _, message, _ := mapError(err)
		deadline := time.Now().Add(wsWriteWait)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, message), deadline)
		return
	}
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readPump(conn)
	})
	g.Go(func() error {
		defer conn.Close()
		return writePump(gctx, conn, updates)
	})
	if err := g.Wait(); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("app: websocket %s: %v", action, err)
	}
}

// offerLatest replaces an unsent snapshot; only the newest one matters.
func offerLatest(ch chan plan.Snapshot, snap plan.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, updates <-chan plan.Snapshot) error {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(wsWriteWait)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil
		case snap := <-updates:
			raw, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
		}
	}
}
