// Package httpapi is the HTTP admin surface over the RegistryService (C4)
// data (SPEC_FULL.md §11/§12): a chi router exposing the same service
// introspection and pause/resume actions the $registry bus service exposes,
// plus a websocket live tail of published events for operators watching a
// running node. Grounded on the teacher's mod/m_api/api_mod split and the
// servs/s_runn/runn_api chi+gorilla/websocket REST+WS server.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/rskv-p/nodebus/busapi"
	"github.com/rskv-p/nodebus/node"
	"github.com/rskv-p/nodebus/value"
)

// Server is the admin HTTP surface.
type Server struct {
	n    *node.Node
	addr string
	http *http.Server
}

// New builds a Server bound to addr, routing every request through n.
func New(n *node.Node, addr string) *Server {
	s := &Server{n: n, addr: addr}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/services", s.handleListServices)
	r.Get("/services/{servicePath}", s.handleGetService)
	r.Get("/services/{servicePath}/state", s.handleServiceState)
	r.Post("/services/{servicePath}/pause", s.handlePause)
	r.Post("/services/{servicePath}/resume", s.handleResume)
	r.Get("/ws", s.handleWS)

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Handler returns the underlying http.Handler, for tests that want to
// drive requests without binding a real listener.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start begins serving in the background. Errors after a clean Stop are
// swallowed (http.ErrServerClosed).
func (s *Server) Start() error {
	ln := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ln <- err
		}
		close(ln)
	}()
	select {
	case err := <-ln:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	result, err := s.n.Request("$registry/services/list", value.Value{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Raw())
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "servicePath")
	result, err := s.n.Request("$registry/services/"+path, value.Value{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Raw())
}

func (s *Server) handleServiceState(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "servicePath")
	result, err := s.n.Request("$registry/services/"+path+"/state", value.Value{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Raw())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "servicePath")
	result, err := s.n.Request("$registry/services/"+path+"/pause", value.Value{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Raw())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "servicePath")
	result, err := s.n.Request("$registry/services/"+path+"/resume", value.Value{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Raw())
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS streams every event matching the "topic" query parameter
// (defaulting to the multi-wildcard ">") to the connected client as JSON
// frames, until the socket closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("topic")
	if pattern == "" {
		pattern = ">"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	subscriber := func(ctx busapi.EventContext, payload *value.Value) error {
		frame := map[string]any{"topic": ctx.TopicPath().AsString()}
		if payload != nil {
			frame["payload"] = payload.Raw()
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}

	id, err := s.n.Subscribe(pattern, "$admin", subscriber, map[string]string{"path": pattern})
	if err != nil {
		return
	}
	defer s.n.Unsubscribe(id)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
