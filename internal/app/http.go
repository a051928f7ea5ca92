package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/backend"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/export"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	readOnly := r.Method == http.MethodGet || r.Method == http.MethodHead

	switch {
	case readOnly && r.URL.Path == "/api/health":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case readOnly && r.URL.Path == "/api/ready":
		s.handleReady(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/ajax":
		s.handleAjax(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/ws":
		s.handleWS(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/export":
		s.handleExport(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/history/revision":
		s.handleRevision(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/history/compare":
		s.handleCompare(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"backend": map[string]any{"status": "ok"},
		"search":  map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["backend"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	// The repository fallback keeps search answering, so a missing index
	// does not make the server unready.
	if !s.service.SearchHealthy() {
		checks["search"] = map[string]any{"status": "fallback"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":       status == "ready",
		"status":   status,
		"checks":   checks,
		"uptime_s": int64(s.service.Uptime().Seconds()),
	})
}

// handleAjax serves every plan action on one route, picked by ?action=.
func (s *HTTPServer) handleAjax(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimSpace(r.URL.Query().Get("action"))
	_, verb, err := backend.ParseAction(action)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	var payload plan.Payload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	ctx := r.Context()
	switch verb {
	case plan.VerbGet:
		snap, err := s.service.Fetch(ctx, action, payload.Params)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case plan.VerbSearch:
		resp, err := s.service.Search(ctx, action, payload.Params, payload.Query)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case plan.VerbHistory:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.History(ctx, action, payload.Params, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		result, err := s.service.Post(ctx, action, payload)
		if err != nil {
			if code, ok := rejection(err); ok {
				log.Printf("app: %s rejected: %v", action, err)
				writeJSON(w, http.StatusOK, map[string]any{"result": 0, "code": code, "error": err.Error()})
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params, err := paramsFromQuery(query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	action := query.Get("action")
	if action == "" {
		action = plan.ActionTemplateGet
	}

	result, err := s.service.Export(r.Context(), export.Request{
		Action: action,
		Params: params,
		Format: export.Format(strings.ToLower(query.Get("format"))),
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.Write(result.Data)
}

func (s *HTTPServer) handleRevision(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params, err := paramsFromQuery(query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	snap, err := s.service.Revision(r.Context(), historyAction(query), params, query.Get("hash"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params, err := paramsFromQuery(query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	changes, err := s.service.Compare(r.Context(), historyAction(query), params, query.Get("from"), query.Get("to"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

// historyAction defaults the history routes to the template.
func historyAction(query url.Values) string {
	if action := query.Get("action"); action != "" {
		return action
	}
	return plan.Action(plan.ModeTemplate, plan.VerbHistory)
}

// paramsFromQuery reads the session params the GET routes take in the
// query string. A missing owner is UnsetOwner.
func paramsFromQuery(query url.Values) (plan.Params, error) {
	params := plan.Params{
		KeyID:       strings.TrimSpace(query.Get("keyId")),
		Plan:        strings.TrimSpace(query.Get("plan")),
		SessionType: strings.TrimSpace(query.Get("sessionType")),
		Owner:       plan.UnsetOwner,
	}
	if raw := strings.TrimSpace(query.Get("owner")); raw != "" {
		owner, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return plan.Params{}, fmt.Errorf("owner must be an integer")
		}
		params.Owner = owner
	}
	return params, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","action":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			r.URL.Query().Get("action"),
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
