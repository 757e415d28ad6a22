package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/middleware"
	"github.com/tcmartin/devportal/pkg/storage"
	"github.com/tcmartin/devportal/pkg/workspace"
)

// WorkspaceResponse is the body of GET and PUT /workspace
type WorkspaceResponse struct {
	UserID        string               `json:"user_id"`
	CurrentOrg    string               `json:"current_org"`
	Role          string               `json:"role"`
	Organizations []storage.Membership `json:"organizations"`
}

// SelectWorkspaceRequest is the body of PUT /workspace
type SelectWorkspaceRequest struct {
	OrgID string `json:"org_id"`
}

// handleNavigation handles GET /api/v1/navigation
func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)
	writeJSON(w, http.StatusOK, s.deps.Navigation.For(p.Role, s.deps.Features))
}

// handleListDocs handles GET /api/v1/docs
func (s *Server) handleListDocs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Docs.List())
}

// handleGetDoc handles GET /api/v1/docs/{name}
func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Docs.Get(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) workspaceFor(p auth.Principal) *workspace.Context {
	store := workspace.PreferenceStore(s.deps.Preferences, p.UserID)
	return workspace.NewContext(p.UserID, p.OrgID, store, s.deps.Memberships)
}

func (s *Server) writeWorkspace(w http.ResponseWriter, r *http.Request, p auth.Principal, ws *workspace.Context) {
	current, err := ws.CurrentOrg()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orgs, err := ws.Organizations()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	role := p.Role
	for _, m := range orgs {
		if m.OrgID == current {
			role = m.Role
		}
	}
	writeJSON(w, http.StatusOK, WorkspaceResponse{
		UserID:        p.UserID,
		CurrentOrg:    current,
		Role:          role,
		Organizations: orgs,
	})
}

// handleGetWorkspace handles GET /api/v1/workspace
func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)
	s.writeWorkspace(w, r, p, s.workspaceFor(p))
}

// handleSelectWorkspace handles PUT /api/v1/workspace
func (s *Server) handleSelectWorkspace(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	var req SelectWorkspaceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ws := s.workspaceFor(p)
	if err := ws.SelectOrg(req.OrgID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeWorkspace(w, r, p, ws)
}

// handleLogRelay handles GET /api/v1/logs/ws
func (s *Server) handleLogRelay(w http.ResponseWriter, r *http.Request) {
	if s.ws == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "log streaming is not configured"})
		return
	}
	p, _ := middleware.GetPrincipal(r)
	creds, _ := auth.ContextTokenSource{}.Token(r.Context())
	s.ws.HandleWebSocket(w, r, creds, p)
}
