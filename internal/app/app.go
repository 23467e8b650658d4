// Package app assembles the job pipeline from configuration. The server, the
// worker and certctl all start from New.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/certgen/certgen/internal/alert"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/credential"
	"github.com/certgen/certgen/internal/database"
	"github.com/certgen/certgen/internal/email"
	"github.com/certgen/certgen/internal/lock"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/pipeline"
	"github.com/certgen/certgen/internal/render"
	"github.com/certgen/certgen/internal/repository"
	"github.com/certgen/certgen/internal/slides"
	"github.com/certgen/certgen/internal/template"
)

// App holds the long-lived collaborators of a process.
type App struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	// DB, Redis, Jobs and Events are nil when the corresponding feature is disabled.
	DB     *database.Postgres
	Redis  *database.Redis
	Jobs   *repository.JobRepository
	Events *repository.EventRepository

	log *logger.Logger
}

// New validates cfg, connects the enabled backing services and builds the
// orchestrator. ctx must outlive the App; it drives token refreshes.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := credential.NewOAuthProvider(ctx, cfg.Google)
	if err != nil {
		return nil, err
	}
	return build(cfg, provider, log)
}

func build(cfg *config.Config, provider credential.Provider, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	if cfg.Database.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Jobs = repository.NewJobRepository(db)
		a.Events = repository.NewEventRepository(db)
		log.Info().Msg("connected to PostgreSQL")
	}

	if cfg.Redis.Enabled {
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		log.Info().Msg("connected to Redis")
	}

	sender, err := newSender(cfg, provider, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	assembler, err := email.NewAssembler(&http.Client{Timeout: cfg.Timeouts.Fetch}, email.AssemblerConfig{
		SenderAddress:   cfg.Email.SenderAddress,
		SenderName:      cfg.Email.SenderName,
		ReplyTo:         cfg.Email.ReplyTo,
		Boundary:        cfg.Email.Boundary,
		MaxArtifactSize: cfg.Email.MaxArtifactSize,
		FetchTimeout:    cfg.Timeouts.Fetch,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	content, err := email.ParseContent(cfg.Email.Subject, cfg.Email.Body)
	if err != nil {
		a.Close()
		return nil, err
	}

	api := slides.NewClient(provider, cfg.Timeouts.Slides, cfg.Google.SlidesEndpoint)

	deps := pipeline.Dependencies{
		Mutator:   template.NewMutator(api, cfg.Template.Placeholder, log),
		Renderer:  render.NewRenderer(api, cfg.Template.ThumbnailSize),
		Assembler: assembler,
		Sender:    sender,
		Content:   content,
	}

	// Interface fields stay nil rather than holding typed nil pointers.
	var pub alert.Publisher
	if a.Redis != nil {
		pub = a.Redis
		deps.Locker = lock.NewRedis(a.Redis, lock.RedisOptions{
			TTL:          cfg.Lock.TTL,
			PollInterval: cfg.Lock.PollInterval,
			Wait:         cfg.Lock.WaitTimeout,
		}, log)
	} else {
		deps.Locker = lock.NewLocal(cfg.Lock.WaitTimeout)
	}
	deps.Alerter = alert.New(pub, log)
	if a.Jobs != nil {
		deps.Store = a.Jobs
	}
	if a.Events != nil {
		deps.Events = a.Events
	}

	a.Orchestrator = pipeline.New(pipeline.Config{
		PresentationID: cfg.Template.PresentationID,
		ResetTimeout:   cfg.Timeouts.Reset,
	}, deps, log)
	return a, nil
}

func newSender(cfg *config.Config, provider credential.Provider, log *logger.Logger) (email.Sender, error) {
	switch cfg.Email.Provider {
	case "gmail":
		return email.NewGmailSender(provider, cfg.Timeouts.Mail, cfg.Google.GmailEndpoint, log), nil
	case "smtp":
		return email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
			SSL:      cfg.Email.SMTP.SSL,
			From:     cfg.Email.SenderAddress,
			Timeout:  cfg.Timeouts.Mail,
		}, log), nil
	}
	return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
}

// Close releases the backing connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close Redis")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close PostgreSQL")
		}
	}
}
