package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tcmartin/devportal/pkg/middleware"
)

// CreateInvitationRequest is the body of POST /invitations
type CreateInvitationRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AcceptInvitationRequest is the body of POST /invitations/{id}/accept
type AcceptInvitationRequest struct {
	Token string `json:"token"`
}

// handleListInvitations handles GET /api/v1/invitations
func (s *Server) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	pending, err := s.deps.Invitations.ListPending(p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// handleCreateInvitation handles POST /api/v1/invitations
func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	var req CreateInvitationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.deps.Invitations.Invite(r.Context(), p, req.Email, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleAcceptInvitation handles POST /api/v1/invitations/{id}/accept. Any
// authenticated user may accept, whatever organization they act in.
func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	var req AcceptInvitationRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}

	membership, err := s.deps.Invitations.Accept(r.Context(), p, mux.Vars(r)["id"], req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membership)
}
