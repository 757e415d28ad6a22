package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tcmartin/devportal/pkg/middleware"
)

// CreateKeyRequest is the body of POST /keys
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// handleListKeys handles GET /api/v1/keys
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	keys, err := s.deps.Keys.List(p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleCreateKey handles POST /api/v1/keys
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	var req CreateKeyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	key, err := s.deps.Keys.Create(r.Context(), p, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

// handleRevokeKey handles DELETE /api/v1/keys/{id}
func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	if err := s.deps.Keys.Revoke(r.Context(), p, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
