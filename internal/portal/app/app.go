package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/youmatter/portal/internal/portal/http"
	"github.com/youmatter/portal/internal/portal/service"
	"github.com/youmatter/portal/internal/portal/store"
	"github.com/youmatter/portal/internal/portal/store/drivers/sqlite"
	"github.com/youmatter/portal/pkg/cryptox"
	"github.com/youmatter/portal/pkg/googleid"
	"github.com/youmatter/portal/pkg/mailx"
	"github.com/youmatter/portal/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application wires the portal together: store, services, HTTP server and
// the background housekeeping loop.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db store.Store

	sessionService   *service.SessionService
	twoFactorService *service.TwoFactorService
	resetService     *service.PasswordResetService
	loginLimiter     *service.LoginLimiter
	complaintGuard   *service.ComplaintGuard
	authService      *service.AuthService
	complaintService *service.ComplaintService
	userService      *service.UserService
	directoryService *service.DirectoryService
	housekeeping     *service.HousekeepingService

	notifier mailx.Notifier

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "youmatter-portal",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initNotifier(); err != nil {
		return nil, err
	}
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("portal starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains the HTTP server, stops housekeeping and closes the store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down portal...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("portal stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initNotifier selects the email transport: a real SMTP relay when
// configured, otherwise a logging notifier so development setups still show
// what would have been sent.
func (app *Application) initNotifier() error {
	if app.cfg.SMTPHost == "" {
		app.logger.Warn("SMTP not configured, outgoing email will be logged only")
		app.notifier = &mailx.LogNotifier{Log: app.logger}
		return nil
	}

	notifier, err := mailx.NewSMTPNotifier(mailx.SMTPConfig{
		Host:     app.cfg.SMTPHost,
		Port:     app.cfg.SMTPPort,
		Username: app.cfg.SMTPUsername,
		Password: app.cfg.SMTPPassword,
		Sender:   app.cfg.SMTPSender,
		UseSSL:   app.cfg.SMTPUseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize SMTP notifier: %w", err)
	}
	app.notifier = notifier
	return nil
}

func (app *Application) initServices() {
	app.sessionService = &service.SessionService{
		Store:       app.db,
		TTL:         app.cfg.SessionTTL,
		IdleWindow:  app.cfg.SessionIdleWindow,
		RotateAfter: app.cfg.SessionRotate,
	}
	// Multi-worker deployments need the shared SQLite challenge table; a
	// single instance can keep challenges in process.
	challenges := app.db.Challenges()
	if app.cfg.ChallengeStore == "memory" {
		challenges = service.NewMemoryChallenges()
	}
	app.twoFactorService = &service.TwoFactorService{
		Challenges: challenges,
		TTL:        app.cfg.ChallengeTTL,
	}
	app.resetService = service.NewPasswordResetService(app.cfg.ResetTTL)
	app.loginLimiter = service.NewLoginLimiter(app.cfg.LoginWindow, app.cfg.LoginMaxFailures, app.cfg.LoginLockout)

	app.complaintGuard = service.NewComplaintGuard()
	app.complaintGuard.Window = app.cfg.ComplaintWindow
	app.complaintGuard.MaxRequests = app.cfg.ComplaintMax
	app.complaintGuard.DuplicateWindow = app.cfg.DuplicateWindow

	var google googleid.Verifier
	if app.cfg.GoogleClientID != "" {
		google = googleid.New(app.cfg.GoogleClientID)
		app.logger.Info("google sign-in enabled")
	}

	app.authService = &service.AuthService{
		Store:     app.db,
		Sessions:  app.sessionService,
		TwoFactor: app.twoFactorService,
		Resets:    app.resetService,
		Limiter:   app.loginLimiter,
		Notifier:  app.notifier,
		Google:    google,
		LoginURL:  app.cfg.LoginURL,
		Log:       app.logger,
	}
	app.complaintService = &service.ComplaintService{
		Store: app.db,
		Guard: app.complaintGuard,
		Log:   app.logger,
	}
	app.userService = &service.UserService{
		Store:     app.db,
		Sessions:  app.sessionService,
		AvatarDir: app.cfg.AvatarDir,
		Log:       app.logger,
	}
	app.directoryService = &service.DirectoryService{
		Store:    app.db,
		Sessions: app.sessionService,
		Notifier: app.notifier,
		LoginURL: app.cfg.LoginURL,
		Log:      app.logger,
	}

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeeping.Resets = app.resetService
	app.housekeeping.Limiter = app.loginLimiter
	app.housekeeping.Guard = app.complaintGuard
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)
	router.APIKey = app.cfg.APIKey
	router.AvatarDir = app.cfg.AvatarDir

	router.Auth = app.authService
	router.Sessions = app.sessionService
	router.Complaints = app.complaintService
	router.Users = app.userService
	router.Directory = app.directoryService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
