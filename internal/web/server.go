// Package web serves adkx apps over HTTP: session management, agent runs
// as JSON or server-sent events, cache reports and Prometheus metrics.
package web

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"slices"
	"time"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/cacheperf"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

//go:embed templates/*.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// Server exposes a set of runners keyed by app name.
type Server struct {
	runners  map[string]*runner.Runner
	gatherer prometheus.Gatherer
}

// NewServer creates a server for runners. A nil gatherer serves the
// default Prometheus registry.
func NewServer(runners []*runner.Runner, gatherer prometheus.Gatherer) (*Server, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{runners: map[string]*runner.Runner{}, gatherer: gatherer}
	for _, r := range runners {
		if _, ok := s.runners[r.AppName()]; ok {
			return nil, fmt.Errorf("duplicate app %q", r.AppName())
		}
		s.runners[r.AppName()] = r
	}
	return s, nil
}

// Routes returns the router of the API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /list-apps", s.handleListApps)
	mux.HandleFunc("GET /apps/{app}/users/{user}/sessions", s.handleListSessions)
	mux.HandleFunc("POST /apps/{app}/users/{user}/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /apps/{app}/users/{user}/sessions/{session}", s.handleCreateSession)
	mux.HandleFunc("GET /apps/{app}/users/{user}/sessions/{session}", s.handleGetSession)
	mux.HandleFunc("DELETE /apps/{app}/users/{user}/sessions/{session}", s.handleDeleteSession)
	mux.HandleFunc("GET /apps/{app}/users/{user}/sessions/{session}/cache", s.handleCacheReport)
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("POST /run_sse", s.handleRunSSE)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// SessionView is the wire form of a session.
type SessionView struct {
	ID             string           `json:"id"`
	AppName        string           `json:"appName"`
	UserID         string           `json:"userId"`
	State          map[string]any   `json:"state"`
	Events         []*session.Event `json:"events"`
	LastUpdateTime time.Time        `json:"lastUpdateTime"`
}

func viewOf(sess *session.Session) SessionView {
	events := sess.Events()
	if events == nil {
		events = []*session.Event{}
	}
	return SessionView{
		ID:             sess.ID,
		AppName:        sess.AppName,
		UserID:         sess.UserID,
		State:          sess.State(),
		Events:         events,
		LastUpdateTime: sess.LastUpdate(),
	}
}

// RunRequest starts an agent run.
type RunRequest struct {
	AppName    string         `json:"appName"`
	UserID     string         `json:"userId"`
	SessionID  string         `json:"sessionId"`
	NewMessage *genai.Content `json:"newMessage"`
	Streaming  bool           `json:"streaming,omitempty"`
	StateDelta map[string]any `json:"stateDelta,omitempty"`
}

type createSessionRequest struct {
	SessionID string         `json:"sessionId,omitempty"`
	State     map[string]any `json:"state,omitempty"`
}

// statusError carries the HTTP status of a failed request.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func withStatus(status int, err error) error {
	return &statusError{status: status, err: err}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var se *statusError
	switch {
	case errors.As(err, &se):
		status = se.status
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("api request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func (s *Server) runner(app string) (*runner.Runner, error) {
	r, ok := s.runners[app]
	if !ok {
		return nil, withStatus(http.StatusNotFound, fmt.Errorf("app %q not found", app))
	}
	return r, nil
}

func (s *Server) appNames() []string {
	names := make([]string, 0, len(s.runners))
	for name := range s.runners {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.appNames()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleListApps(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.appNames())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	rn, err := s.runner(r.PathValue("app"))
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := rn.Sessions().List(r.Context(), &session.ListRequest{AppName: rn.AppName(), UserID: r.PathValue("user")})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]SessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, viewOf(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	rn, err := s.runner(r.PathValue("app"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, withStatus(http.StatusBadRequest, fmt.Errorf("decode request: %w", err)))
			return
		}
	}
	id := r.PathValue("session")
	if id == "" {
		id = body.SessionID
	}
	sess, err := rn.Sessions().Create(r.Context(), &session.CreateRequest{
		AppName:   rn.AppName(),
		UserID:    r.PathValue("user"),
		SessionID: id,
		State:     body.State,
	})
	if err != nil {
		writeError(w, withStatus(http.StatusBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rn, err := s.runner(r.PathValue("app"))
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := rn.Sessions().Get(r.Context(), &session.GetRequest{
		AppName: rn.AppName(), UserID: r.PathValue("user"), SessionID: r.PathValue("session"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	rn, err := s.runner(r.PathValue("app"))
	if err != nil {
		writeError(w, err)
		return
	}
	err = rn.Sessions().Delete(r.Context(), &session.DeleteRequest{
		AppName: rn.AppName(), UserID: r.PathValue("user"), SessionID: r.PathValue("session"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCacheReport analyzes cache usage of the session. The agent query
// parameter limits the report to one agent.
func (s *Server) handleCacheReport(w http.ResponseWriter, r *http.Request) {
	rn, err := s.runner(r.PathValue("app"))
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := cacheperf.NewAnalyzer(rn.Sessions()).AnalyzeAgent(r.Context(),
		rn.AppName(), r.PathValue("user"), r.PathValue("session"), r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decodeRun(r *http.Request) (RunRequest, error) {
	var req RunRequest
	d := json.NewDecoder(r.Body)
	d.DisallowUnknownFields()
	if err := d.Decode(&req); err != nil {
		return req, withStatus(http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
	}
	if req.NewMessage == nil {
		return req, withStatus(http.StatusBadRequest, errors.New("newMessage is required"))
	}
	return req, nil
}

func runConfig(req RunRequest) agent.RunConfig {
	cfg := agent.RunConfig{StreamingMode: agent.StreamingNone}
	if req.Streaming {
		cfg.StreamingMode = agent.StreamingSSE
	}
	return cfg
}

func runOptions(req RunRequest) []runner.Option {
	if len(req.StateDelta) == 0 {
		return nil
	}
	return []runner.Option{runner.WithStateDelta(req.StateDelta)}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRun(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rn, err := s.runner(req.AppName)
	if err != nil {
		writeError(w, err)
		return
	}
	events := []*session.Event{}
	for ev, err := range rn.Run(r.Context(), req.UserID, req.SessionID, req.NewMessage, runConfig(req), runOptions(req)...) {
		if err != nil {
			writeError(w, err)
			return
		}
		events = append(events, ev)
	}
	writeJSON(w, http.StatusOK, events)
}

// handleRunSSE streams every event as one "data:" line. A run error is
// sent as a final {"error": ...} payload.
func (s *Server) handleRunSSE(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRun(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rn, err := s.runner(req.AppName)
	if err != nil {
		writeError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev, err := range rn.Run(r.Context(), req.UserID, req.SessionID, req.NewMessage, runConfig(req), runOptions(req)...) {
		var payload any = ev
		if err != nil {
			log.Error().Err(err).Str("app", req.AppName).Str("session_id", req.SessionID).Msg("sse run failed")
			payload = map[string]string{"error": err.Error()}
		}
		if wErr := writeSSE(w, payload); wErr != nil {
			log.Warn().Err(wErr).Msg("write sse event")
			return
		}
		if fErr := rc.Flush(); fErr != nil && !errors.Is(fErr, http.ErrNotSupported) {
			return
		}
		if err != nil {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
