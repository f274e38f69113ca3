package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/hitmerge/internal/algorithm"
	"github.com/banshee-data/hitmerge/internal/config"
	"github.com/banshee-data/hitmerge/internal/eventdb"
	"github.com/banshee-data/hitmerge/internal/eventstore"
	"github.com/banshee-data/hitmerge/internal/merging"
	"github.com/banshee-data/hitmerge/internal/monitoring"
	"github.com/banshee-data/hitmerge/internal/pointing"
	"github.com/banshee-data/hitmerge/internal/security"
	"github.com/banshee-data/hitmerge/internal/version"
)

var (
	dbPath      = flag.String("db", "hitmerge.db", "SQLite event database path")
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	eventID     = flag.String("event", "", "Process only this event ID (default: every stored event)")
	workers     = flag.Int("workers", runtime.NumCPU(), "Maximum number of events processed concurrently")
	listen      = flag.String("listen", "", "Serve /debug/ admin routes on this address and wait for a signal")
	importPath  = flag.String("import", "", "JSON event document to insert before processing")
	exportDir   = flag.String("export", "", "Write each processed event as a JSON document into this directory")
	verbose     = flag.Bool("v", false, "Enable diagnostic and trace logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

type options struct {
	DBPath     string
	ConfigPath string
	EventID    string
	Workers    int
	Listen     string
	ImportPath string
	ExportDir  string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *workers < 1 {
		log.Fatal("-workers must be at least 1")
	}

	streams := monitoring.LogWriters{Ops: os.Stderr}
	if *verbose {
		streams.Diag = os.Stderr
		streams.Trace = os.Stderr
	}
	monitoring.SetLogWriters(streams)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		DBPath:     *dbPath,
		ConfigPath: *configPath,
		EventID:    *eventID,
		Workers:    *workers,
		Listen:     *listen,
		ImportPath: *importPath,
		ExportDir:  *exportDir,
	})
	if err != nil {
		log.Fatalf("hitmerge: %v", err)
	}
}

// newRegistry lists every algorithm type a configuration may name.
func newRegistry() (*algorithm.Registry, error) {
	reg := algorithm.NewRegistry()
	if err := reg.Register(merging.IsolatedHitMergingName, merging.Factory); err != nil {
		return nil, err
	}
	if err := reg.Register(pointing.MonitorName, pointing.MonitorFactory); err != nil {
		return nil, err
	}
	return reg, nil
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := newRegistry()
	if err != nil {
		return err
	}
	// Fail on bad algorithm settings before touching the database.
	if _, err := algorithm.NewPipeline(reg, cfg); err != nil {
		return err
	}

	var allowedExportDirs []string
	if opts.ExportDir != "" {
		if allowedExportDirs, err = security.ExportDirs(); err != nil {
			return err
		}
		if err := security.WithinAnyDirectory(opts.ExportDir, allowedExportDirs); err != nil {
			return fmt.Errorf("export directory: %w", err)
		}
	}

	db, err := eventdb.Open(opts.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.MigrateUp(); err != nil {
		return err
	}

	if opts.ImportPath != "" {
		id, err := importEvent(ctx, db, opts.ImportPath)
		if err != nil {
			return err
		}
		monitoring.Opsf("imported %s as event %s", opts.ImportPath, id)
	}

	ids := []string{opts.EventID}
	if opts.EventID == "" {
		events, err := db.ListEvents(ctx)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		ids = ids[:0]
		for _, e := range events {
			ids = append(ids, e.ID)
		}
	}

	start := time.Now()
	if err := processEvents(ctx, db, reg, cfg, ids, opts.Workers); err != nil {
		return err
	}
	monitoring.Opsf("processed %d events in %v", len(ids), time.Since(start).Round(time.Millisecond))

	if opts.ExportDir != "" {
		if err := exportEvents(ctx, db, ids, opts.ExportDir, allowedExportDirs); err != nil {
			return err
		}
		monitoring.Opsf("exported %d events to %s", len(ids), opts.ExportDir)
	}

	if opts.Listen != "" {
		return serveAdmin(ctx, db, opts.Listen)
	}
	return nil
}

func importEvent(ctx context.Context, db *eventdb.DB, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open event document: %w", err)
	}
	defer f.Close()

	store, err := eventstore.ReadDocument(f)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	id := uuid.NewString()
	if err := db.InsertEvent(ctx, id, filepath.Base(path), store); err != nil {
		return "", err
	}
	return id, nil
}

func exportEvents(ctx context.Context, db *eventdb.DB, ids []string, dir string, allowed []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	for _, id := range ids {
		path, err := security.ExportPath(dir, id, allowed)
		if err != nil {
			return err
		}
		store, err := db.LoadEvent(ctx, id)
		if err != nil {
			return fmt.Errorf("load event %s: %w", id, err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		werr := eventstore.WriteDocument(f, store)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("write %s: %w", path, werr)
		}
		monitoring.Tracef("exported event %s to %s", id, path)
	}
	return nil
}

// processEvents runs a fresh pipeline over each event, at most workers at a
// time. The first failure cancels events that have not started.
func processEvents(ctx context.Context, db *eventdb.DB, reg *algorithm.Registry, cfg *config.Config, ids []string, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return processEvent(ctx, db, reg, cfg, id)
		})
	}
	return g.Wait()
}

func processEvent(ctx context.Context, db *eventdb.DB, reg *algorithm.Registry, cfg *config.Config, id string) error {
	store, err := db.LoadEvent(ctx, id)
	if err != nil {
		return fmt.Errorf("load event %s: %w", id, err)
	}
	pipeline, err := algorithm.NewPipeline(reg, cfg)
	if err != nil {
		return err
	}
	if err := pipeline.Run(store); err != nil {
		return fmt.Errorf("event %s: %w", id, err)
	}
	if err := db.SaveEvent(ctx, id, store); err != nil {
		return fmt.Errorf("save event %s: %w", id, err)
	}
	monitoring.Diagf("event %s done", id)
	return nil
}

func serveAdmin(ctx context.Context, db *eventdb.DB, addr string) error {
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		monitoring.Opsf("admin routes listening on %s/debug/", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}
