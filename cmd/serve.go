package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zjrosen/formulary/internal/api"
	"github.com/zjrosen/formulary/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the formula API. It serves execution, listing and status endpoints
for the registry and the candidate code workflow (save, test, diff, activate).

Example:
  formulary serve                      # listen on server.addr (default 127.0.0.1:5002)
  formulary serve --addr :8080
  formulary serve --debug              # also stream log lines to stderr`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	if debugFlag {
		go streamLogs(ctx)
	}
	go logRegistryEvents(ctx, a)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = a.metrics
	}

	server, err := api.NewServer(api.ServerConfig{
		Addr: addr,
		Handler: api.HandlerConfig{
			Registry:   a.registry,
			Candidates: a.candidates,
			Gatherer:   gatherer,
		},
	})
	if err != nil {
		_ = a.Close(ctx)
		return fmt.Errorf("creating API server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Formulary API listening on port %d\n", server.Port())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	var serveErr error
	select {
	case sig := <-sigCh:
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error(log.CatAPI, "Error stopping API server", "error", err)
	}
	cancel()
	if err := a.Close(shutdownCtx); err != nil {
		log.Error(log.CatAPI, "Error releasing resources", "error", err)
	}
	return serveErr
}

// streamLogs mirrors debug log lines to stderr while the server runs.
func streamLogs(ctx context.Context) {
	ch := log.Subscribe(ctx)
	if ch == nil {
		return
	}
	for ev := range ch {
		fmt.Fprint(os.Stderr, ev.Payload)
	}
}

func logRegistryEvents(ctx context.Context, a *app) {
	for ev := range a.events.Subscribe(ctx) {
		log.Info(log.CatRegistry, "Registry event", "type", string(ev.Type), "name", ev.Payload.Name, "active", ev.Payload.Active)
	}
}
