// Package api implements the developer portal's HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tcmartin/devportal/pkg/config"
	"github.com/tcmartin/devportal/pkg/crm"
	"github.com/tcmartin/devportal/pkg/docs"
	"github.com/tcmartin/devportal/pkg/logging"
	"github.com/tcmartin/devportal/pkg/middleware"
	"github.com/tcmartin/devportal/pkg/navigation"
	"github.com/tcmartin/devportal/pkg/services"
	"github.com/tcmartin/devportal/pkg/storage"
)

// Dependencies are the collaborators the API serves
type Dependencies struct {
	Auth         *middleware.AuthMiddleware
	Keys         *services.KeyService
	Invitations  *services.InvitationService
	Integrations crm.Service
	Monitor      *services.IntegrationMonitor
	Preferences  storage.PreferenceStore
	Memberships  storage.MembershipStore
	Navigation   *navigation.Tree
	Docs         *docs.Catalog
	Streams      StreamFactory
	Features     map[string]bool
	Logger       logging.Logger
}

// Server represents the HTTP API server
type Server struct {
	config *config.Config
	deps   Dependencies
	logger logging.Logger
	router *mux.Router
	server *http.Server
	ws     *WebSocketManager
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		logger: deps.Logger,
		router: mux.NewRouter(),
	}
	if deps.Streams != nil {
		s.ws = NewWebSocketManager(deps.Streams, cfg.Server.AllowedOrigins, deps.Logger)
	}

	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: the log relay holds connections open
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", logging.F("addr", addr))

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.CORS(s.config.Server.AllowedOrigins))

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/docs", s.handleListDocs).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/docs/{name}", s.handleGetDoc).Methods(http.MethodGet, http.MethodOptions)

	authenticated := api.PathPrefix("").Subrouter()
	authenticated.Use(s.deps.Auth.Authenticate)

	authenticated.HandleFunc("/navigation", s.handleNavigation).Methods(http.MethodGet, http.MethodOptions)

	keys := authenticated.PathPrefix("/keys").Subrouter()
	keys.HandleFunc("", s.handleListKeys).Methods(http.MethodGet, http.MethodOptions)
	keys.HandleFunc("", s.handleCreateKey).Methods(http.MethodPost, http.MethodOptions)
	keys.HandleFunc("/{id}", s.handleRevokeKey).Methods(http.MethodDelete, http.MethodOptions)

	integrations := authenticated.PathPrefix("/integrations").Subrouter()
	integrations.HandleFunc("", s.handleListIntegrations).Methods(http.MethodGet, http.MethodOptions)
	integrations.HandleFunc("", s.handleCreateIntegration).Methods(http.MethodPost, http.MethodOptions)
	integrations.HandleFunc("/health", s.handleIntegrationHealth).Methods(http.MethodGet, http.MethodOptions)
	integrations.HandleFunc("/{provider}/test", s.handleTestIntegration).Methods(http.MethodPost, http.MethodOptions)

	invitations := authenticated.PathPrefix("/invitations").Subrouter()
	invitations.HandleFunc("", s.handleListInvitations).Methods(http.MethodGet, http.MethodOptions)
	invitations.HandleFunc("", s.handleCreateInvitation).Methods(http.MethodPost, http.MethodOptions)
	invitations.HandleFunc("/{id}/accept", s.handleAcceptInvitation).Methods(http.MethodPost, http.MethodOptions)

	authenticated.HandleFunc("/workspace", s.handleGetWorkspace).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/workspace", s.handleSelectWorkspace).Methods(http.MethodPut, http.MethodOptions)

	authenticated.HandleFunc("/logs/ws", s.handleLogRelay).Methods(http.MethodGet)
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return &services.ValidationError{Field: "body", Message: "invalid JSON request body"}
	}
	return nil
}
