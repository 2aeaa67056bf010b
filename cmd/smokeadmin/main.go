// ABOUTME: Entry point for the smokeadmin command
// ABOUTME: Serves the admin API and runs one-shot maintenance subcommands

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/smokingpi/smokeadmin/internal/admin"
	"github.com/smokingpi/smokeadmin/internal/api"
	"github.com/smokingpi/smokeadmin/internal/bootstrap"
	"github.com/smokingpi/smokeadmin/internal/config"
	"github.com/smokingpi/smokeadmin/internal/deploy"
	"github.com/smokingpi/smokeadmin/internal/discovery"
	"github.com/smokingpi/smokeadmin/internal/migrate"
	"github.com/smokingpi/smokeadmin/internal/store"
	"github.com/smokingpi/smokeadmin/internal/synth"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                      _                    _           _
  ___ _ __ ___   ___ | | _____  __ _  __| |_ __ ___ (_)_ __
 / __| '_ ' _ \ / _ \| |/ / _ \/ _' |/ _' | '_ ' _ \| | '_ \
 \__ \ | | | | | (_) |   <  __/ (_| | (_| | | | | | | | | | |
 |___/_| |_| |_|\___/|_|\_\___|\__,_|\__,_|_| |_| |_|_|_| |_|
`

const shutdownTimeout = 10 * time.Second

func usage() {
	fmt.Println("Usage: smokeadmin <command> [--config PATH] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the admin API")
	fmt.Println("  bootstrap [--force]          Create or repair the configuration documents")
	fmt.Println("  generate                     Print the rendered Targets and Probes sections")
	fmt.Println("  apply                        Render, write and reload the daemon configuration")
	fmt.Println("  sync [--clear] CATEGORY [DOMAIN...]")
	fmt.Println("                               Reconcile a category against a domain list")
	fmt.Println("  migrate [--no-backup]        Copy the flat-file documents into the database")
	fmt.Println("  status                       Show backend, files and target counts")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "bootstrap":
		err = runBootstrap(ctx, args)
	case "generate":
		err = runGenerate(ctx, args)
	case "apply":
		err = runApply(ctx, args)
	case "sync":
		err = runSync(ctx, args)
	case "migrate":
		err = runMigrate(ctx, args)
	case "status":
		err = runStatus(ctx, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses the shared --config flag plus any extra flags the
// subcommand registered on fs, then loads and validates the configuration.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", "", "config file (YAML or TOML)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(*path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogger(cfg.Logging)
	return cfg, nil
}

// app is the wiring shared by every subcommand that touches the store.
type app struct {
	cfg   *config.Config
	store store.Store
	sel   store.Selection
	svc   *admin.Service
}

func (a *app) Close() error { return a.store.Close() }

// open bootstraps the documents, selects the backend once and builds the
// admin service with its discovery sources.
func open(ctx context.Context, cfg *config.Config) (*app, error) {
	report, err := bootstrap.New(cfg.Paths.ConfigDir, bootstrap.WithTemplateDir(cfg.Paths.TemplateDir)).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping %s: %w", cfg.Paths.ConfigDir, err)
	}
	if report.Changed() {
		for _, d := range report.Documents {
			if d.Action != bootstrap.ActionValid {
				color.Yellow("    ! %s %s", d.Name, d.Action)
			}
		}
	}

	s, sel, err := store.Select(ctx, store.SelectConfig{
		ConfigDir:       cfg.Paths.ConfigDir,
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		BackupRetention: cfg.Paths.BackupRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("selecting store: %w", err)
	}

	renderer, err := synth.NewRenderer(cfg.Paths.TemplateDir)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	var opts []deploy.Option
	opts = append(opts, deploy.WithBackupRetention(cfg.Paths.BackupRetention))
	if len(cfg.Deploy.ReloadCommand) > 0 {
		opts = append(opts, deploy.WithReloadCommand(cfg.Deploy.ReloadCommand, cfg.Deploy.ReloadTimeout))
	}
	deployer := deploy.NewFileDeployer(cfg.Deploy.TargetDir, opts...)

	svc := admin.New(s, renderer, deployer, admin.Config{
		ConfigDir:      cfg.Paths.ConfigDir,
		DefaultProbe:   cfg.Probes.Default,
		CategoryProbes: cfg.Probes.Categories,
		Country:        cfg.Discovery.Country,
		MaxSites:       cfg.Discovery.MaxSites,
		Selection:      sel,
	})
	if cfg.Discovery.RankingURL != "" {
		ranking := discovery.NewRankingLister(cfg.Discovery.RankingURL, 30*time.Second)
		svc.RegisterLister(store.CategoryTopSites,
			discovery.NewCachedLister(store.CategoryTopSites, ranking, cfg.Discovery.CacheTTL))
	}
	if cfg.Discovery.OCAResults != "" {
		svc.RegisterCandidateSource(store.CategoryNetflixOCA, discovery.OCAFileSource{Path: cfg.Discovery.OCAResults})
	}

	return &app{cfg: cfg, store: s, sel: sel, svc: svc}, nil
}

func runServe(ctx context.Context, args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("serve", flag.ContinueOnError), args)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", cfg.Paths.ConfigDir)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s (%s)\n", a.sel.Backend, a.sel.Reason)
	green.Print("    ▶ ")
	fmt.Printf("Output:    %s\n", cfg.Deploy.TargetDir)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n\n", cfg.Server.HTTPAddr)

	e := api.NewServer(api.NewHandler(a.svc))
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(cfg.Server.HTTPAddr)
	}()

	logger := slog.Default().With("component", "main")
	logger.Info("starting smokeadmin", "http_addr", cfg.Server.HTTPAddr, "backend", a.sel.Backend)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func runBootstrap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	force := fs.Bool("force", false, "recreate every document from templates")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	report, runErr := bootstrap.New(cfg.Paths.ConfigDir,
		bootstrap.WithTemplateDir(cfg.Paths.TemplateDir),
		bootstrap.WithForce(*force),
	).Run(ctx)
	if report != nil {
		for _, d := range report.Documents {
			printDocument(d)
		}
	}
	return runErr
}

func printDocument(d bootstrap.DocumentResult) {
	var mark *color.Color
	switch d.Action {
	case bootstrap.ActionValid:
		mark = color.New(color.FgGreen)
	case bootstrap.ActionFailed:
		mark = color.New(color.FgRed, color.Bold)
	default:
		mark = color.New(color.FgYellow)
	}
	mark.Printf("    %-10s", d.Action)
	fmt.Print(d.Name)
	if d.Backup != "" {
		color.New(color.FgHiBlack).Printf(" (backup %s)", d.Backup)
	}
	if d.Reason != "" {
		color.New(color.FgHiBlack).Printf(" %s", d.Reason)
	}
	fmt.Println()
}

func runGenerate(ctx context.Context, args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("generate", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.svc.Generate(ctx)
	if err != nil {
		return err
	}
	fmt.Println(gen.Rendered.Probes)
	fmt.Println(gen.Rendered.Targets)
	for _, w := range gen.Warnings {
		color.Yellow("warning: %s", w)
	}
	return nil
}

func runApply(ctx context.Context, args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("apply", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Apply(ctx)
	if res != nil && res.Deploy != nil && res.Deploy.ReloadOutput != "" {
		color.New(color.FgHiBlack).Println(res.Deploy.ReloadOutput)
	}
	if err != nil {
		return err
	}
	color.Green("✓ %s", res.Message)
	return nil
}

func runSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	clearAll := fs.Bool("clear", false, "sync against an empty list, deactivating every discovered target")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("sync requires a category")
	}
	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// no domains means the category's registered source
	var domains []string
	switch {
	case *clearAll && fs.NArg() > 1:
		return fmt.Errorf("--clear takes no domains")
	case *clearAll:
		domains = []string{}
	case fs.NArg() > 1:
		domains = fs.Args()[1:]
	}

	res, err := a.svc.Sync(ctx, fs.Arg(0), domains)
	if err != nil {
		return err
	}
	color.Green("✓ %s", res.Message)
	fmt.Printf("    preserved %d  created %d  reactivated %d  deactivated %d  ignored %d\n",
		res.Preserved, res.Created, res.Reactivated, res.Deactivated, res.Ignored)
	return nil
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	noBackup := fs.Bool("no-backup", false, "skip copying the documents aside first")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is not configured")
	}

	files, err := store.NewFileStore(cfg.Paths.ConfigDir)
	if err != nil {
		return err
	}
	db, err := store.NewSQLStore(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	var opts []migrate.Option
	if *noBackup {
		opts = append(opts, migrate.WithoutBackup())
	}
	report, err := migrate.New(files, db, opts...).Run(ctx)
	if err != nil {
		return err
	}

	if report.AlreadyMigrated {
		color.Yellow("database was already migrated; only missing records were copied")
	}
	if report.BackupDir != "" {
		fmt.Printf("    backup:     %s\n", report.BackupDir)
	}
	fmt.Printf("    categories: %d\n    probes:     %d\n    sources:    %d\n    targets:    %d (%d skipped)\n    metadata:   %d\n",
		report.Categories, report.Probes, report.Sources, report.Targets, report.SkippedTargets, report.Metadata)
	color.Green("✓ migration %s complete", report.RunID)
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("status", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.svc.Status(ctx)
	if err != nil {
		return err
	}
	ok := func(present bool) string {
		if present {
			return color.GreenString("present")
		}
		return color.RedString("missing")
	}

	fmt.Printf("Backend:    %s (%s)\n", st.Backend, st.BackendReason)
	for _, name := range store.RequiredDocuments {
		fmt.Printf("  %-14s %s\n", name, ok(st.ConfigFiles[name]))
	}
	for _, name := range []string{deploy.TargetsFileName, deploy.ProbesFileName} {
		fmt.Printf("  %-14s %s\n", name, ok(st.GeneratedFiles[name]))
	}
	fmt.Printf("Targets:    %d active / %d total in %d categories\n", st.ActiveTargets, st.TotalTargets, st.Categories)
	fmt.Printf("Probes:     %d\n", st.Probes)
	fmt.Printf("Bandwidth:  %.2f bps (%.6f Mbps)\n", st.Bandwidth.Bps, st.Bandwidth.Mbps)
	for name, at := range st.LastSync {
		fmt.Printf("Last sync:  %s at %s\n", name, at)
	}
	return nil
}
