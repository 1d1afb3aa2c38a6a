package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	auth "github.com/goliatone/go-auth-otp"
	"github.com/goliatone/go-auth-otp/activitymap"
	"github.com/goliatone/go-auth-otp/config"
	"github.com/goliatone/go-auth-otp/telemetry"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/uptrace/bun"
)

type App struct {
	config     *config.Config
	bunDB      *bun.DB
	repo       auth.RepositoryManager
	flow       auth.VerificationFlow
	dispatcher *auth.DeliveryDispatcher
	sweeper    *auth.Sweeper
	srv        router.Server[*fiber.App]
	logger     *glog.BaseLogger
	shutdownFn []func(context.Context) error
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) onShutdown(fn func(context.Context) error) {
	a.shutdownFn = append(a.shutdownFn, fn)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := config.Load()
	if err != nil {
		lgr.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.Debug {
		fmt.Println(print.MaybeHighlightJSON(redacted(cfg)))
	}

	ctx := context.Background()

	app := &App{
		config: cfg,
		logger: lgr,
	}

	for _, step := range []func(context.Context, *App) error{
		WithTelemetry,
		WithPersistence,
		WithDelivery,
		WithVerificationFlow,
		WithHTTPServer,
	} {
		if err := step(ctx, app); err != nil {
			lgr.Error("failed to start", "error", err)
			app.shutdown(ctx)
			os.Exit(1)
		}
	}

	go func() {
		if err := app.srv.Serve(cfg.Address()); err != nil {
			lgr.Error("http server stopped", "error", err)
		}
	}()

	lgr.Info("otp auth server listening", "address", cfg.Address(), "prefix", cfg.APIPrefix)

	sig := WaitExitSignal()
	lgr.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	app.shutdown(shutdownCtx)
}

func WithTelemetry(ctx context.Context, app *App) error {
	shutdown, err := telemetry.Setup(ctx, app.config.OTelServiceName, app.config.OTelEndpoint)
	if err != nil {
		return err
	}
	app.onShutdown(shutdown)
	return nil
}

func WithPersistence(ctx context.Context, app *App) error {
	db, err := auth.OpenDatabase(ctx, app.config.DatabaseURL)
	if err != nil {
		return err
	}
	app.bunDB = db
	app.onShutdown(func(context.Context) error { return db.Close() })

	applied, err := auth.Migrate(ctx, db)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		app.GetLogger("persistence").Info("migrations applied", "migrations", applied)
	}

	app.repo = auth.NewRepositoryManager(db)
	return app.repo.Validate()
}

func WithDelivery(ctx context.Context, app *App) error {
	logger := app.GetLogger("delivery")

	var notifier auth.PasscodeNotifier = auth.LogNotifier{Logger: logger}
	if app.config.SMTPEnabled() {
		renderer, err := auth.NewPasscodeRenderer(nil)
		if err != nil {
			return err
		}

		notifier, err = auth.NewSMTPNotifier(auth.SMTPConfig{
			Host:     app.config.SMTPHost,
			Port:     app.config.SMTPPort,
			Username: app.config.EmailUser,
			Password: app.config.EmailPass,
			From:     app.config.EmailFrom,
			Timeout:  app.config.OTPDeliveryTimeout,
		}, renderer)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("SMTP_HOST not set, passcodes are written to the log")
	}

	sink := activityLogger(app.GetLogger("activity"))

	app.dispatcher = auth.NewDeliveryDispatcher(notifier,
		auth.WithDispatcherMode(auth.DeliveryMode(app.config.OTPDeliveryMode)),
		auth.WithDispatcherWorkers(app.config.OTPWorkers),
		auth.WithDispatcherQueueSize(app.config.OTPQueueSize),
		auth.WithDispatcherTimeout(app.config.OTPDeliveryTimeout),
		auth.WithDispatcherLogger(logger),
		auth.WithDispatcherActivitySink(sink),
	)
	app.dispatcher.Start(ctx)
	app.onShutdown(app.dispatcher.Stop)

	app.sweeper = auth.NewSweeper(app.repo.Verifications(), app.config.OTPSweepInterval, app.GetLogger("sweeper")).
		WithActivitySink(sink)
	app.sweeper.Start(ctx)
	app.onShutdown(func(context.Context) error {
		app.sweeper.Stop()
		return nil
	})

	return nil
}

func WithVerificationFlow(_ context.Context, app *App) error {
	tokens := auth.NewTokenServiceFromConfig(app.config,
		auth.WithTokenLogger(app.GetLogger("tokens")),
	)

	app.flow = auth.NewVerificationStateMachine(app.repo, tokens,
		auth.WithStateMachineConfig(app.config),
		auth.WithContactRegion(app.config.DefaultRegion),
		auth.WithStateMachineDispatcher(app.dispatcher),
		auth.WithStateMachineLogger(app.GetLogger("auth")),
		auth.WithStateMachineActivitySink(activityLogger(app.GetLogger("activity"))),
	)
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		f := router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:          true,
			StrictRouting:         false,
			DisableStartupMessage: !app.config.Debug,
		}))
		f.Use(cors.New(cors.Config{
			AllowOrigins: app.config.FrontendURL,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
			AllowMethods: "GET,POST,OPTIONS",
		}))
		return f
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	auth.RegisterHealthRoute(srv.Router(), "/health")

	auth.RegisterAuthRoutes(srv.Router().Group(app.config.APIPrefix),
		auth.WithControllerFlow(app.flow),
		auth.WithControllerLogger(app.GetLogger("http")),
		auth.WithControllerDebug(app.config.Debug),
	)

	app.srv = srv
	app.onShutdown(srv.Shutdown)
	return nil
}

// shutdown runs the registered hooks in reverse order
func (a *App) shutdown(ctx context.Context) {
	for i := len(a.shutdownFn) - 1; i >= 0; i-- {
		if err := a.shutdownFn[i](ctx); err != nil {
			a.logger.Error("shutdown", "error", err)
		}
	}
	a.shutdownFn = nil
}

func activityLogger(logger glog.Logger) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		record := activitymap.Normalize(event)
		logger.Info(record.Verb,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"metadata", record.Metadata,
			"occurred_at", record.OccurredAt,
		)
		return nil
	})
}

func redacted(cfg *config.Config) config.Config {
	out := *cfg
	if out.JWTSecret != "" {
		out.JWTSecret = "***"
	}
	if out.EmailPass != "" {
		out.EmailPass = "***"
	}
	return out
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
