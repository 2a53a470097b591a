package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luna-labs/accuracy.report/internal/api"
	"github.com/luna-labs/accuracy.report/internal/db"
	"github.com/luna-labs/accuracy.report/internal/ingest"
	"github.com/luna-labs/accuracy.report/internal/monitoring"
	"github.com/luna-labs/accuracy.report/internal/timeutil"
	"github.com/luna-labs/accuracy.report/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and analyze pending sessions in the background",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// Flags
var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides listen from config)")
}

// newHandler mounts the API and the database admin routes on one mux.
func newHandler(store *db.DB, pipeline *ingest.Pipeline) (http.Handler, error) {
	mux := http.NewServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	mux.Handle("/api/", api.LoggingMiddleware(api.NewServer(store, pipeline).ServeMux()))
	return mux, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openDB()
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline := newPipeline(store)
	handler, err := newHandler(store, pipeline)
	if err != nil {
		return err
	}

	worker := ingest.NewAnalysisWorker(pipeline, ingest.AnalysisWorkerConfig{
		Interval:  cfg.GetAnalysisInterval(),
		BatchSize: cfg.GetAnalysisBatchSize(),
		Clock:     timeutil.RealClock{},
	})
	worker.Start(ctx)
	defer worker.Stop()

	listen := cfg.GetListen()
	if serveListen != "" {
		listen = serveListen
	}
	server := &http.Server{Addr: listen, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Serving accuracy API %s on %s", version.Version, listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
	}
	monitoring.Logf("Graceful shutdown complete")
	return nil
}
