// Package gateway is the HTTP surface in front of the annotation store.
// It only translates requests into store operations and store results into
// wire responses; all semantics live in the store.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"pindrop/internal/annotation"
	"pindrop/internal/store"
	logx "pindrop/pkg/logx"
)

type Config struct {
	// Secret is compared against Authorization: Bearer or X-Api-Key on
	// mutating routes. Empty disables the check.
	Secret string
	// CORSOrigin is echoed into Access-Control-Allow-Origin. Empty means "*".
	CORSOrigin string
}

// Health is implemented by the app to expose a liveness snapshot.
type Health func() any

type Server struct {
	cfg    Config
	store  *store.Store
	log    logx.Logger
	health Health
}

func New(cfg Config, st *store.Store, log logx.Logger, health Health) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if health == nil {
		health = func() any { return map[string]string{"status": "ok"} }
	}
	return &Server{cfg: cfg, store: st, log: log, health: health}
}

// Handler builds the route table with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /annotations", s.handleList)
	mux.HandleFunc("POST /annotations", s.requireSecret(s.handleCreate))
	mux.HandleFunc("PUT /annotations/{id}", s.requireSecret(s.handleUpdate))
	mux.HandleFunc("DELETE /annotations/{id}", s.requireSecret(s.handleDelete))

	var h http.Handler = mux
	h = s.cors(h)
	h = s.accessLog(h)
	h = requestID(h)
	return h
}

type writeRequest struct {
	ID       string    `json:"id,omitempty"`
	Position []float64 `json:"position"`
	ClientID *string   `json:"clientId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"annotations": list})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	a, err := s.store.Create(r.Context(), req.ID, req.Position, req.ClientID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	a, existed, err := s.store.Update(r.Context(), r.PathValue("id"), req.Position, req.ClientID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		annotation.Annotation
		Existed bool `json:"existed"`
	}{a, existed})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "removed": removed})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		// Cause already logged at the store boundary.
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func decodeBody(r *http.Request, into *writeRequest) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(into); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
