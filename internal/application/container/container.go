// Package container provides dependency injection for all singleton services
package container

import (
	"fmt"
	"log/slog"

	"github.com/AtRiskMedia/tractstack-leads/internal/application/services"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/email"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/persistence/journal"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/sinks"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/storage"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	Config *config.Config
	Logger *logging.ChanneledLogger

	// Identity
	Minter *security.Minter
	Keys   storage.KeySet
	Sealer *security.Sealer

	// Pipeline
	DataLayerHub *messaging.DataLayerHub
	Sinks        []sinks.Sink
	Dispatcher   *services.Dispatcher
	LeadService  *services.LeadService

	// Outcome journal, nil when disabled or unreachable
	DB      *database.DB
	Journal *journal.OutcomeRepository
}

// NewContainer creates and wires all singleton services. Optional
// integrations that cannot start are logged and left out; only invalid
// configuration is an error.
func NewContainer(cfg *config.Config, logger *logging.ChanneledLogger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
		Minter: security.NewMinter(logger),
		Keys:   storage.NewKeySet(cfg.Identity.Namespace),
	}

	if cfg.Identity.SealingKey != "" {
		sealer, err := security.NewSealer(cfg.Identity.SealingKey)
		if err != nil {
			return nil, fmt.Errorf("identity sealing key: %w", err)
		}
		c.Sealer = sealer
	}

	c.DataLayerHub = messaging.NewDataLayerHub(cfg.CORSAllowOrigins, cfg.DataLayer.WriteTimeout, cfg.DataLayer.BufferSize, logger)

	var emailService email.Service
	if cfg.Email.ResendAPIKey != "" {
		client, err := email.NewService(cfg.Email.ResendAPIKey, cfg.Email.From, cfg.Email.FromName)
		if err != nil {
			return nil, fmt.Errorf("email service: %w", err)
		}
		emailService = client
	}

	c.Sinks = []sinks.Sink{
		sinks.NewMetaPixelSink(cfg.Meta, nil),
		sinks.NewConversionAPISink(cfg.Meta, nil),
		sinks.NewSnapchatSink(cfg.Snapchat, nil),
		sinks.NewTikTokSink(cfg.TikTok, nil),
		sinks.NewDataLayerSink(c.DataLayerHub, cfg.DataLayer.Enabled),
		sinks.NewWebhookSink(cfg.Webhook, nil, logger),
		sinks.NewEmailSink(emailService, cfg.Email.Recipients),
	}

	var recorder services.OutcomeRecorder = services.NopRecorder{}
	if cfg.Journal.Driver != "" || cfg.Journal.TursoURL != "" {
		db, err := database.Open(cfg.Journal, logger)
		if err != nil {
			logger.Startup().Error("Outcome journal disabled", "error", err.Error())
		} else if repo, err := journal.NewOutcomeRepository(db, logger); err != nil {
			logger.Startup().Error("Outcome journal schema failed", "error", err.Error())
			db.Close()
		} else {
			c.DB = db
			c.Journal = repo
			recorder = repo
		}
	}

	c.Dispatcher = services.NewDispatcher(cfg.Dispatch, c.Sinks, recorder, logger)
	c.LeadService = services.NewLeadService(cfg, c.Dispatcher, c.Minter, logger)
	return c, nil
}

// NewIdentityStore builds a page-scoped identity store over st, sealing blobs
// when a key is configured.
func (c *Container) NewIdentityStore(st storage.Storage) *services.IdentityStore {
	if c.Sealer != nil {
		st = storage.NewSealedStorage(st, c.Keys, c.Sealer)
	}
	return services.NewIdentityStore(st, c.Keys, c.Config.Identity, c.Minter, c.Logger, c.logNotification)
}

func (c *Container) logNotification(n services.ProfileNotification) {
	c.Logger.Identity().Debug("Profile notification",
		slog.String("kind", n.Kind),
		slog.String("visitorId", logging.MaskID(n.Snapshot.VisitorID)),
		slog.Int("visitCount", n.Snapshot.VisitCount))
}

// Close releases the websocket hub and the journal connection.
func (c *Container) Close() error {
	c.DataLayerHub.Close()
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
