package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"oppsync/apiclients/asana"
	"oppsync/config"
	"oppsync/db"
	"oppsync/internal/mounts"
	"oppsync/pipeliner"
	"oppsync/relay"
	"oppsync/web"
	"oppsync/workflow"
)

// App is the central orchestrator for the application's business logic.
// It coordinates configuration, the database, the Asana client and the
// webhook dispatcher.
type App struct{}

// NewApp creates and returns a new App instance.
func NewApp() *App {
	return &App{}
}

// runtime bundles the wired-up service stack for one command invocation.
type runtime struct {
	cfg      *config.Config
	db       *db.DB
	catalogs *workflow.Store
	service  *relay.Service
	log      *slog.Logger
}

// close releases the runtime's resources.
func (rt *runtime) close() {
	_ = rt.db.Close()
}

// newLogger creates the application logger. Development mode lowers
// the level to debug.
func newLogger(development bool) *slog.Logger {
	opts := charmlog.Options{ReportTimestamp: true}
	if development {
		opts.Level = charmlog.DebugLevel
	}
	return slog.New(charmlog.NewWithOptions(os.Stderr, opts))
}

// setup loads configuration and wires up the database, workflow
// catalog, Asana client and dispatcher used by every command.
func (a *App) setup(ctx context.Context, cfgPath string) (*runtime, error) {

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	logger := newLogger(cfg.Web.DevelopmentMode)

	sqlFS, err := mounts.NewFileMount("sql", db.SQLEmbeddedFS, "")
	if err != nil {
		return nil, fmt.Errorf("could not mount sql fs: %w", err)
	}

	thisDB, err := db.NewConnection(cfg.DatabasePath, sqlFS)
	if err != nil {
		return nil, fmt.Errorf("database setup error: %w", err)
	}
	if err := thisDB.InitSchema(sqlFS, "schema.sql"); err != nil {
		_ = thisDB.Close()
		return nil, fmt.Errorf("database schema error: %w", err)
	}

	catalogs, err := workflow.NewStore(cfg.Workflow.Variant, cfg.Workflow.CatalogPath)
	if err != nil {
		_ = thisDB.Close()
		return nil, fmt.Errorf("workflow catalog error: %w", err)
	}

	client := asana.NewClient(ctx, cfg, logger)
	service := relay.NewService(cfg, client, thisDB, catalogs, logger)

	return &runtime{
		cfg:      cfg,
		db:       thisDB,
		catalogs: catalogs,
		service:  service,
		log:      logger,
	}, nil
}

// Serve runs the webhook relay server until interrupted. In
// development mode an on-disk catalog is watched and hot reloaded.
func (a *App) Serve(ctx context.Context, cfgPath string) error {

	rt, err := a.setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if rt.cfg.Web.DevelopmentMode && rt.cfg.Workflow.CatalogPath != "" {
		watcher, err := workflow.NewWatcher(rt.catalogs, rt.log)
		if err != nil {
			return fmt.Errorf("catalog watcher error: %w", err)
		}
		g.Go(func() error {
			return watcher.Watch(ctx)
		})
	}

	webApp, err := web.New(rt.log, rt.cfg, rt.service)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return webApp.StartServer(ctx)
	})

	return g.Wait()
}

// SendTest dispatches a synthetic opportunity created event through
// the full relay stack, as if delivered by the CRM. Empty name and
// account and a zero value keep the sample opportunity's fields.
func (a *App) SendTest(ctx context.Context, cfgPath, name, account string, value float64) error {

	rt, err := a.setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	o := relay.SampleOpportunity()
	if name != "" {
		o.Name = name
	}
	if account != "" {
		o.AccountName = account
	}
	if value > 0 {
		o.Value = pipeliner.FlexFloat(value)
	}

	event, err := relay.NewTestEvent(o)
	if err != nil {
		return err
	}
	if err := rt.service.Dispatch(ctx, event); err != nil {
		return fmt.Errorf("test dispatch error: %w", err)
	}
	rt.log.Info(fmt.Sprintf("test opportunity %q dispatched in %s mode", o.Name, rt.cfg.Mode()))
	return nil
}

// Mappings prints the stored opportunity-to-project mappings and the
// recent delivery audit log.
func (a *App) Mappings(ctx context.Context, cfgPath string, limit int) error {

	rt, err := a.setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	mappings, err := rt.db.MappingsGet(ctx, limit)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fmt.Println("no mappings stored")
	case err != nil:
		return err
	default:
		fmt.Printf("%-24s %-20s %s\n", "opportunity", "project", "created")
		for _, m := range mappings {
			fmt.Printf("%-24s %-20s %s\n", m.OpportunityID, m.ProjectID, m.CreatedAt)
		}
	}

	deliveries, err := rt.db.DeliveriesGet(ctx, limit)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fmt.Println("no deliveries recorded")
	case err != nil:
		return err
	default:
		fmt.Printf("\n%-20s %-12s %-10s %-24s %-10s %s\n",
			"received", "entity", "action", "opportunity", "outcome", "detail")
		for _, d := range deliveries {
			fmt.Printf("%-20s %-12s %-10s %-24s %-10s %s\n",
				d.ReceivedAt, d.Entity, d.Action, d.OpportunityID, d.Outcome, d.Detail)
		}
	}
	return nil
}

// Wipe deletes the local database file, removing all mappings and the
// delivery audit log.
func (a *App) Wipe(ctx context.Context, cfgPath string) error {

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	logger := newLogger(cfg.Web.DevelopmentMode)

	logger.Info(fmt.Sprintf("Deleting database file at: %s", cfg.DatabasePath))
	if err := os.Remove(cfg.DatabasePath); err != nil {
		return fmt.Errorf("failed to delete database file: %w", err)
	}
	logger.Info("Wipe complete.")
	return nil
}
