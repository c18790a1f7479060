package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	natours "github.com/goliatone/go-natours"
	"github.com/goliatone/go-natours/config"
	"github.com/goliatone/go-natours/mailer"
	"github.com/goliatone/go-natours/tours"
	"github.com/goliatone/go-router"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// requests larger than this are rejected by fiber
const bodyLimit = 10 * 1024

type App struct {
	config *config.Config
	db     *bun.DB
	repo   natours.RepositoryManager
	tours  tours.Repository
	auther *natours.Auther
	guard  *natours.RouteGuard
	mailer mailer.Sender
	srv    router.Server[*fiber.App]
	logger *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	app := NewApp(cfg)

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		return err
	}
	defer app.db.Close()

	switch cmd {
	case "serve":
		return serve(ctx, app)
	case "migrate":
		app.GetLogger("db").Info("migrations applied", "driver", cfg.DBDriver)
		return nil
	case "seed":
		return seed(ctx, app, args)
	default:
		return fmt.Errorf("unknown command %q, expected serve, migrate or seed", cmd)
	}
}

// NewApp creates the application shell with its logger. Components are
// attached by the With* functions.
func NewApp(cfg *config.Config) *App {
	level := glog.Debug
	if cfg.IsProduction() {
		level = glog.Info
	}

	return &App{
		config: cfg,
		logger: glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(level),
			glog.WithName("natours"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		),
	}
}

func serve(ctx context.Context, app *App) error {
	if err := WithMailer(app); err != nil {
		return err
	}

	WithAuth(app)

	if err := WithHTTPServer(app); err != nil {
		return err
	}

	logger := app.GetLogger("http")

	go func() {
		logger.Info("listening", "address", app.config.Address(), "env", app.config.Env)
		if err := app.srv.Serve(app.config.Address()); err != nil {
			logger.Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return app.srv.Shutdown(ctx)
}

func seed(ctx context.Context, app *App, args []string) error {
	flags := flag.NewFlagSet("seed", flag.ContinueOnError)
	doImport := flags.Bool("import", false, "import the development tours")
	doDelete := flags.Bool("delete", false, "delete every tour")
	file := flags.String("file", "", "JSON file to import instead of the embedded tours")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := app.GetLogger("seed")

	switch {
	case *doDelete:
		_, err := tours.Purge(ctx, app.tours, logger)
		return err
	case *doImport:
		inputs, err := loadFixtures(*file)
		if err != nil {
			return err
		}
		_, err = tours.Import(ctx, app.tours, logger, inputs)
		return err
	default:
		flags.Usage()
		return fmt.Errorf("seed requires --import or --delete")
	}
}

func loadFixtures(path string) ([]tours.TourInput, error) {
	if path == "" {
		return tours.DefaultFixtures()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to open fixtures file")
	}
	defer f.Close()

	return tours.LoadFixtures(f)
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config
	logger := app.GetLogger("db")

	var (
		sqldb *sql.DB
		err   error
	)

	switch cfg.DBDriver {
	case natours.DialectPostgres:
		sqldb, err = sql.Open("pgx", cfg.DatabaseURL)
		if err == nil {
			app.db = bun.NewDB(sqldb, pgdialect.New())
		}
	default:
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DatabaseURL)
		if err == nil {
			sqldb.SetMaxOpenConns(1)
			app.db = bun.NewDB(sqldb, sqlitedialect.New())
		}
	}
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to open database")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(pingCtx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to reach database")
	}

	if err := natours.RunMigrations(ctx, sqldb, cfg.DBDriver); err != nil {
		return err
	}
	logger.Debug("database ready", "driver", cfg.DBDriver)

	hasher := natours.NewBcryptHasher(cfg.GetPasswordCost())
	opts := append([]natours.UsersOption{natours.WithUsersHasher(hasher)}, cfg.UsersOptions()...)
	app.repo = natours.NewRepositoryManager(app.db, opts...)
	logger.Debug("users repository ready", "id_strategy", cfg.UserIDs)
	if err := app.repo.Validate(); err != nil {
		return err
	}

	app.tours = tours.NewRepository(app.db)

	return nil
}

func WithMailer(app *App) error {
	if !app.config.SMTPEnabled() {
		app.GetLogger("mailer").Warn("EMAIL_HOST not set, emails are written to the log")
		app.mailer = mailer.NewLogSender(app.GetLogger("mailer"))
		return nil
	}

	sender, err := mailer.NewSMTPSender(app.config.SMTPConfig())
	if err != nil {
		return err
	}
	app.mailer = sender
	return nil
}

func WithAuth(app *App) {
	cfg := app.config

	tokens := natours.NewTokenServiceFromConfig(cfg, natours.WithTokenLogger(app.GetLogger("auth:tokens")))

	app.auther = natours.NewAuther(app.repo, tokens).
		WithLogger(app.GetLogger("auth")).
		WithHasher(natours.NewBcryptHasher(cfg.GetPasswordCost())).
		WithActivitySink(natours.NewLoggerActivitySink(app.GetLogger("auth:activity")))

	app.guard = natours.NewRouteGuard(app.auther, cfg)
}

func WithHTTPServer(app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:       "natours",
			BodyLimit:     bodyLimit,
			UnescapePath:  true,
			StrictRouting: false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	opts := []natours.UserControllerOption{
		natours.WithControllerDebug(!app.config.IsProduction()),
		natours.WithControllerLogger(app.GetLogger("users")),
	}
	if base := app.config.ResetURLBase; base != "" {
		opts = append(opts, natours.WithResetURLBase(base))
	}

	users := natours.NewUserController(app.auther, app.guard, app.mailer, opts...)
	natours.RegisterUserRoutes(srv.Router().Group(natours.DefaultUsersPath), users)

	toursController := tours.NewTourController(app.tours, app.guard,
		tours.WithDebug(!app.config.IsProduction()),
		tours.WithLogger(app.GetLogger("tours")),
	)
	tours.RegisterTourRoutes(srv.Router().Group(tours.DefaultToursPath), toursController)

	app.srv = srv

	return nil
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
