package app

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"github.com/R3E-Network/signflow/internal/app/blob"
	"github.com/R3E-Network/signflow/internal/app/mail"
	"github.com/R3E-Network/signflow/internal/app/pdf"
	auditsvc "github.com/R3E-Network/signflow/internal/app/services/audit"
	"github.com/R3E-Network/signflow/internal/app/services/auth"
	"github.com/R3E-Network/signflow/internal/app/services/documents"
	"github.com/R3E-Network/signflow/internal/app/services/folders"
	"github.com/R3E-Network/signflow/internal/app/services/notifications"
	"github.com/R3E-Network/signflow/internal/app/services/organizations"
	"github.com/R3E-Network/signflow/internal/app/services/permissions"
	"github.com/R3E-Network/signflow/internal/app/services/signatures"
	"github.com/R3E-Network/signflow/internal/app/services/tags"
	"github.com/R3E-Network/signflow/internal/app/storage"
	"github.com/R3E-Network/signflow/internal/app/storage/memory"
	"github.com/R3E-Network/signflow/internal/app/system"
	"github.com/R3E-Network/signflow/internal/config"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users         storage.UserStore
	Sessions      storage.SessionStore
	Organizations storage.OrganizationStore
	Documents     storage.DocumentStore
	Folders       storage.FolderStore
	Tags          storage.TagStore
	Permissions   storage.PermissionStore
	Signatures    storage.SignatureStore
	Audit         storage.AuditStore
	Notifications storage.NotificationStore
}

func (s *Stores) fillDefaults() {
	var mem *memory.Store
	get := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if s.Users == nil {
		s.Users = get()
	}
	if s.Sessions == nil {
		s.Sessions = get()
	}
	if s.Organizations == nil {
		s.Organizations = get()
	}
	if s.Documents == nil {
		s.Documents = get()
	}
	if s.Folders == nil {
		s.Folders = get()
	}
	if s.Tags == nil {
		s.Tags = get()
	}
	if s.Permissions == nil {
		s.Permissions = get()
	}
	if s.Signatures == nil {
		s.Signatures = get()
	}
	if s.Audit == nil {
		s.Audit = get()
	}
	if s.Notifications == nil {
		s.Notifications = get()
	}
}

// Options carries the non-storage dependencies. Zero values fall back to
// development defaults: in-memory blobs, mail written to the log, the wall
// clock and pdfcpu stamping.
type Options struct {
	Config  *config.Config
	Blobs   blob.Store
	Mailer  mail.Sender
	Clock   clock.Clock
	Stamper signatures.Stamper
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	closers []func() error
	health  func(ctx context.Context) error

	Config        *config.Config
	Auth          *auth.Service
	Organizations *organizations.Service
	Permissions   *permissions.Service
	Folders       *folders.Service
	Tags          *tags.Service
	Documents     *documents.Service
	Signatures    *signatures.Service
	Notifications *notifications.Service
	Audit         *auditsvc.Service
	Dispatcher    *notifications.Dispatcher
	Sweeper       *signatures.Sweeper
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	stores.fillDefaults()

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	blobs := opts.Blobs
	if blobs == nil {
		blobs = blob.NewMemory()
	}
	sender := opts.Mailer
	if sender == nil {
		sender = mail.NewLogSender(log.WithField("component", "mail"))
	}
	stamper := opts.Stamper
	if stamper == nil {
		stamper = pdf.Apply
	}

	notificationService := notifications.New(stores.Notifications, clk, cfg.Webhooks.MailSecret, log.WithField("component", "notifications"))
	auditService := auditsvc.New(stores.Audit, auditsvc.NewHub(), log.WithField("component", "audit"))

	authService := auth.New(stores.Users, stores.Sessions, notificationService, auth.Config{
		JWTSecret:  cfg.Auth.JWTSecret,
		TokenTTL:   cfg.Auth.TokenTTL,
		ResetTTL:   cfg.Auth.ResetTTL,
		BcryptCost: cfg.Auth.BcryptCost,
		PublicURL:  cfg.Server.PublicURL,
	}, clk, log.WithField("component", "auth"))

	orgService := organizations.New(stores.Organizations, stores.Users, notificationService, organizations.Config{
		InviteTTL: cfg.Auth.InviteTTL,
		PublicURL: cfg.Server.PublicURL,
	}, clk, log.WithField("component", "organizations"))

	permService := permissions.New(stores.Organizations, stores.Permissions, stores.Documents, stores.Folders, log.WithField("component", "permissions"))
	folderService := folders.New(stores.Folders, stores.Documents, stores.Permissions, permService, auditService, log.WithField("component", "folders"))
	tagService := tags.New(stores.Tags, orgService, log.WithField("component", "tags"))
	docService := documents.New(stores.Documents, stores.Folders, stores.Signatures, permService, blobs, auditService, clk, log.WithField("component", "documents"))

	sigService := signatures.New(stores.Signatures, stores.Users, docService, permService, notificationService, auditService, stamper, signatures.Config{
		PublicURL:     cfg.Server.PublicURL,
		DefaultExpiry: cfg.Workflow.DefaultExpiry,
		ReminderAfter: cfg.Workflow.ReminderAfter,
	}, clk, log.WithField("component", "signatures"))

	dispatcher := notifications.NewDispatcher(stores.Notifications, sender, clk, cfg.Workflow.DispatchEvery, log.WithField("component", "mail-dispatcher"))
	sweeper, err := signatures.NewSweeper(sigService, cfg.Workflow.SweepSchedule, log.WithField("component", "signature-sweeper"))
	if err != nil {
		return nil, fmt.Errorf("configure sweeper: %w", err)
	}

	manager := system.NewManager()
	for _, svc := range []system.Service{dispatcher, sweeper} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:       manager,
		log:           log,
		Config:        cfg,
		Auth:          authService,
		Organizations: orgService,
		Permissions:   permService,
		Folders:       folderService,
		Tags:          tagService,
		Documents:     docService,
		Signatures:    sigService,
		Notifications: notificationService,
		Audit:         auditService,
		Dispatcher:    dispatcher,
		Sweeper:       sweeper,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the lifecycle-managed services in start order.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Workers describes the lifecycle-managed services.
func (a *Application) Workers() []system.Descriptor {
	return a.manager.Descriptors()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Health reports whether backing stores are reachable.
func (a *Application) Health(ctx context.Context) error {
	if a.health == nil {
		return nil
	}
	return a.health(ctx)
}

// Close releases connections opened by Open.
func (a *Application) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
