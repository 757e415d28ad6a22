package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tcmartin/devportal/pkg/api"
	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/config"
	"github.com/tcmartin/devportal/pkg/crm"
	"github.com/tcmartin/devportal/pkg/docs"
	"github.com/tcmartin/devportal/pkg/gateway"
	"github.com/tcmartin/devportal/pkg/logging"
	"github.com/tcmartin/devportal/pkg/logstream"
	"github.com/tcmartin/devportal/pkg/mail"
	"github.com/tcmartin/devportal/pkg/middleware"
	"github.com/tcmartin/devportal/pkg/navigation"
	"github.com/tcmartin/devportal/pkg/services"
	"github.com/tcmartin/devportal/pkg/storage"
	"github.com/tcmartin/devportal/pkg/utils"
)

// NewApp wires every component from cfg
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := logging.NewLogger(logging.LogConfig{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	provider, err := storage.NewProvider(providerConfig(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage provider: %w", err)
	}
	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage provider: %w", err)
	}

	// Key issuance runs as the portal; integration calls forward the caller
	gatewayTimeout := time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second
	gatewayHTTP := utils.NewHTTPClient(
		utils.WithTimeout(gatewayTimeout),
		utils.WithTokenSource(auth.StaticTokenSource{BearerToken: cfg.Gateway.ServiceToken}),
	)
	crmHTTP := utils.NewHTTPClient(
		utils.WithTimeout(time.Duration(cfg.CRM.TimeoutSeconds)*time.Second),
		utils.WithTokenSource(auth.ContextTokenSource{}),
	)
	issuer := gateway.NewClient(cfg.Gateway.APIBaseURL, gatewayHTTP)
	integrations := crm.NewClient(cfg.CRMBaseURL(), crmHTTP)

	var sender mail.Sender = mail.LogSender{Logger: logger}
	if cfg.Email.SMTPHost != "" {
		sender = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		})
	} else {
		logger.Warn("no SMTP host configured, invitation emails are only logged")
	}

	jwtService := services.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)
	keys := services.NewKeyService(issuer, provider.GetKeyStore(), logger)
	invitations := services.NewInvitationService(
		provider.GetInvitationStore(),
		provider.GetMembershipStore(),
		sender,
		cfg.Server.PublicURL,
		logger,
	)

	// The monitor checks with the portal's own credentials
	monitorHTTP := utils.NewHTTPClient(
		utils.WithTimeout(time.Duration(cfg.CRM.TimeoutSeconds)*time.Second),
		utils.WithTokenSource(auth.StaticTokenSource{BearerToken: cfg.Gateway.ServiceToken}),
	)
	monitor := services.NewIntegrationMonitor(crm.NewClient(cfg.CRMBaseURL(), monitorHTTP), logger)
	if cfg.CRM.MonitorSchedule != "" {
		if err := monitor.Start(cfg.CRM.MonitorSchedule); err != nil {
			return nil, fmt.Errorf("failed to start integration monitor: %w", err)
		}
	}

	authMiddleware := middleware.NewAuthMiddleware(jwtService, provider.GetMembershipStore(), cfg.Auth.MaxFailedAttempts, logger)

	tree, err := navigation.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load navigation: %w", err)
	}
	catalog, err := docs.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load API docs: %w", err)
	}

	server := api.NewServer(cfg, api.Dependencies{
		Auth:         authMiddleware,
		Keys:         keys,
		Invitations:  invitations,
		Integrations: integrations,
		Monitor:      monitor,
		Preferences:  provider.GetPreferenceStore(),
		Memberships:  provider.GetMembershipStore(),
		Navigation:   tree,
		Docs:         catalog,
		Streams:      streamFactory(cfg, logger),
		Features: map[string]bool{
			"log_streaming":       cfg.Gateway.APIBaseURL != "",
			"integration_monitor": cfg.CRM.MonitorSchedule != "",
		},
		Logger: logger,
	})

	return &App{
		config:  cfg,
		logger:  logger,
		storage: provider,
		server:  server,
		monitor: monitor,
	}, nil
}

// streamFactory builds one log-stream client per relay connection
func streamFactory(cfg *config.Config, logger logging.Logger) api.StreamFactory {
	base, maxDelay := cfg.Stream.ReconnectDelays()
	policy := logstream.ReconnectPolicy{
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		MaxAttempts: cfg.Stream.MaxAttempts,
	}
	// No overall timeout: the stream stays open for the life of the job
	httpClient := &http.Client{}

	return func(creds auth.Credentials) *logstream.Client {
		transport := logstream.NewSSETransport(cfg.Gateway.APIBaseURL,
			logstream.WithHTTPClient(httpClient),
			logstream.WithTokenSource(auth.StaticTokenSource(creds)),
		)
		return logstream.NewClient(transport, logstream.Options{
			Policy: policy,
			Logger: logger.WithFields(logging.F("component", "logstream")),
		})
	}
}

func providerConfig(sc config.StorageConfig) storage.ProviderConfig {
	pc := storage.ProviderConfig{Type: storage.ProviderType(sc.Type)}
	switch sc.Type {
	case config.StorageFile:
		pc.File = &storage.FileProviderConfig{Path: sc.File.Path}
	case config.StorageDynamoDB:
		pc.DynamoDB = &storage.DynamoDBProviderConfig{
			Region:      sc.DynamoDB.Region,
			TablePrefix: sc.DynamoDB.TablePrefix,
			Endpoint:    sc.DynamoDB.Endpoint,
		}
	case config.StoragePostgres:
		pc.PostgreSQL = &storage.PostgreSQLProviderConfig{
			Host:     sc.Postgres.Host,
			Port:     sc.Postgres.Port,
			User:     sc.Postgres.User,
			Password: sc.Postgres.Password,
			Database: sc.Postgres.Database,
			SSLMode:  sc.Postgres.SSLMode,
		}
	case config.StorageRedis:
		pc.Redis = &storage.RedisProviderConfig{
			Addr:      sc.Redis.Addr,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
		}
	}
	return pc
}
