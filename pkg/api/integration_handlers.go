package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tcmartin/devportal/pkg/crm"
	"github.com/tcmartin/devportal/pkg/middleware"
	"github.com/tcmartin/devportal/pkg/services"
)

// TestIntegrationRequest is the body of POST /integrations/{provider}/test
type TestIntegrationRequest struct {
	Credentials crm.Credentials `json:"credentials"`
}

// ProviderInfo describes a supported CRM provider
type ProviderInfo struct {
	Name           crm.Provider `json:"name"`
	RequiredFields []string     `json:"required_fields"`
}

// IntegrationListResponse is the body of GET /integrations
type IntegrationListResponse struct {
	Integrations []crm.Integration `json:"integrations"`
	Providers    []ProviderInfo    `json:"providers"`
}

// handleListIntegrations handles GET /api/v1/integrations
func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	integrations, err := s.deps.Integrations.ListIntegrations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := IntegrationListResponse{Integrations: integrations}
	for _, p := range crm.Providers() {
		resp.Providers = append(resp.Providers, ProviderInfo{Name: p, RequiredFields: p.RequiredFields()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateIntegration handles POST /api/v1/integrations
func (s *Server) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)
	if !p.CanWrite() {
		s.writeError(w, r, services.ErrForbidden)
		return
	}

	var req crm.CreateIntegrationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	provider, err := crm.ParseProvider(string(req.Provider))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Provider = provider

	integration, err := s.deps.Integrations.CreateIntegration(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, integration)
}

// handleTestIntegration handles POST /api/v1/integrations/{provider}/test
func (s *Server) handleTestIntegration(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)
	if !p.CanWrite() {
		s.writeError(w, r, services.ErrForbidden)
		return
	}

	provider, err := crm.ParseProvider(mux.Vars(r)["provider"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req TestIntegrationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Integrations.TestConnection(r.Context(), provider, req.Credentials)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleIntegrationHealth handles GET /api/v1/integrations/health. Pass
// refresh=true to run the checks now.
func (s *Server) handleIntegrationHealth(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)
	if !p.IsAdmin() {
		s.writeError(w, r, services.ErrForbidden)
		return
	}
	if s.deps.Monitor == nil {
		writeJSON(w, http.StatusOK, services.IntegrationHealth{Results: []crm.ConnectionResult{}})
		return
	}

	if r.URL.Query().Get("refresh") == "true" {
		health, err := s.deps.Monitor.CheckAll(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, health)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.Health())
}
