// Package httpapi implements the C6 HTTP surface: the director-facing
// endpoints under /v1, token enforcement, and the serve_api shutdown
// flag that system.lockdown and rescue.finalize_rescue flip to end the
// accept loop.
//
// Grounded on pkg/api/health.go's http.ServeMux + typed response struct
// pattern, generalized from liveness/readiness probes to the full
// command-and-status surface this agent exposes.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ironrun/provisiond/internal/dispatcher"
	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/log"
)

// TokenState is implemented by internal/liaison; kept as a narrow
// interface so httpapi doesn't import the full liaison package.
type TokenState interface {
	Required() bool
	Valid(presented string) bool
}

// Server is the single-process HTTP server for the director-facing API.
type Server struct {
	mux        *http.ServeMux
	dispatcher *dispatcher.Dispatcher
	tokens     TokenState
	startedAt  time.Time
	version    string

	serveAPI atomic.Bool
	http     *http.Server
}

// New builds a Server wired to dispatcher for command execution and
// tokens for POST authorization.
func New(d *dispatcher.Dispatcher, tokens TokenState, version string) *Server {
	s := &Server{
		dispatcher: d,
		tokens:     tokens,
		startedAt:  time.Now(),
		version:    version,
	}
	s.serveAPI.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleBanner)
	mux.HandleFunc("GET /v1", s.handleIndex)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/commands", s.handleListCommands)
	mux.HandleFunc("GET /v1/commands/{id}", s.handleGetCommand)
	mux.HandleFunc("POST /v1/commands", s.handlePostCommand)
	s.mux = mux
	return s
}

// Shutdown flips the serve_api flag false; the next poll in Run stops
// the accept loop. Called by the system.lockdown and
// rescue.finalize_rescue command handlers.
func (s *Server) Shutdown() {
	s.serveAPI.Store(false)
}

// Run serves addr until ctx is cancelled or Shutdown is called,
// whichever comes first, then returns after a graceful drain.
func (s *Server) Run(ctx context.Context, addr string) error {
	logger := log.WithComponent("httpapi")

	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // commands with wait=true may block indefinitely
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("serving director API")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return s.drain()
		case <-ticker.C:
			if !s.serveAPI.Load() {
				return s.drain()
			}
		}
	}
}

func (s *Server) drain() error {
	log.WithComponent("httpapi").Info().Msg("serve_api flag cleared, draining HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": "OpenStack Ironic Python Agent API"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"links": []map[string]string{
			{"rel": "self", "href": "/v1/status"},
			{"rel": "self", "href": "/v1/commands"},
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"started_at": s.startedAt.UTC().Format(time.RFC3339),
		"version":    s.version,
	})
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	results := s.dispatcher.List()
	serialized := make([]map[string]any, 0, len(results))
	for _, cr := range results {
		serialized = append(serialized, cr.Serialize())
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": serialized})
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cr, ok := s.dispatcher.Get(id)
	if !ok {
		s.writeError(w, errs.NewRequestedObjectNotFoundError("command", id))
		return
	}
	if wantsWait(r) {
		cr.Wait(0)
	}
	writeJSON(w, http.StatusOK, cr.Serialize())
}

type postCommandBody struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

func (s *Server) handlePostCommand(w http.ResponseWriter, r *http.Request) {
	var body postCommandBody
	if err := decodeJSONBody(r, &body); err != nil {
		s.writeError(w, errs.NewInvalidCommandError("request body is not valid JSON"))
		return
	}
	if body.Name == "" {
		s.writeError(w, errs.NewInvalidCommandError("\"name\" is required"))
		return
	}
	if body.Params == nil {
		body.Params = map[string]any{}
	}

	if s.tokens != nil && s.tokens.Required() {
		presented := tokenFromRequest(r, body.Params)
		if !s.tokens.Valid(presented) {
			http.Error(w, "invalid or missing agent token", http.StatusUnauthorized)
			return
		}
	}

	cr, err := s.dispatcher.Accept(body.Name, body.Params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if wantsWait(r) {
		cr.Wait(0)
	}
	writeJSON(w, http.StatusOK, cr.Serialize())
}

func tokenFromRequest(r *http.Request, params map[string]any) string {
	if t, ok := params["agent_token"].(string); ok && t != "" {
		return t
	}
	if t := r.Header.Get("X-Agent-Token"); t != "" {
		return t
	}
	return r.URL.Query().Get("agent_token")
}

func wantsWait(r *http.Request) bool {
	v := r.URL.Query().Get("wait")
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	re, ok := err.(errs.RESTError)
	if !ok {
		re = errs.NewCommandExecutionError(err.Error())
	}
	faultcode := "Server"
	if re.Code() >= 400 && re.Code() < 500 {
		faultcode = "Client"
	}
	body := errs.Serialize(re)
	body["faultcode"] = faultcode
	body["faultstring"] = re.Error()
	writeJSON(w, re.Code(), body)
}
