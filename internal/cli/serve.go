package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/engine"
	"github.com/lazypower/curator/internal/playbook"
	"github.com/lazypower/curator/internal/server"
	"github.com/lazypower/curator/internal/store"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	// Env override until config file loading lands
	if p := os.Getenv("CURATOR_DB"); p != "" {
		cfg.Database.Path = p
	}

	// Resolve database path
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng, err := engine.Load(db)
	if err != nil {
		return fmt.Errorf("load playbook: %w", err)
	}
	applyCuratorConfig(eng, cfg.Curator)

	eng.StartArchiveTimer(time.Duration(cfg.Curator.SweepIntervalHours) * time.Hour)
	defer eng.Stop()

	srv := server.New(eng, VersionString(), cfg.Curator.RetrieveTopK)
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "curator serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		fmt.Fprintf(os.Stderr, "  matcher: %s, archive after %d idle days, sweep every %dh\n",
			cfg.Curator.Matcher, cfg.Curator.ArchiveInactiveDays, cfg.Curator.SweepIntervalHours)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

// applyCuratorConfig pushes curator settings from config onto a loaded engine.
func applyCuratorConfig(eng *engine.Engine, cfg config.CuratorConfig) {
	if cfg.ArchiveInactiveDays > 0 {
		eng.Curator.SetArchiveInactiveDays(cfg.ArchiveInactiveDays)
	}
	switch cfg.Matcher {
	case "lexical":
		eng.Curator.SetMatcher(playbook.LexicalMatcher{Threshold: cfg.SimilarityThreshold})
	default:
		eng.Curator.SetMatcher(playbook.ExactMatcher{Threshold: cfg.SimilarityThreshold})
	}
}
