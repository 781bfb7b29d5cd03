package main

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/obol/internal/auth"
	"github.com/MGallo-Code/obol/internal/config"
	"github.com/MGallo-Code/obol/internal/metrics"
	"github.com/MGallo-Code/obol/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// cliState is shared by every subcommand. cfg is set in PersistentPreRunE.
type cliState struct {
	envFile string
	scope   string
	cfg     *config.Config
}

// newRootCmd builds the obol command tree. Config is loaded once in PersistentPreRunE
// so every subcommand sees the same environment.
func newRootCmd() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:           "obol",
		Short:         "Connect OAuth providers and hand their tokens to MCP clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(st.envFile); err != nil {
				return err
			}
			// Load config first so we can set log level
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			st.cfg = cfg

			// Include source location in log entries at debug level only.
			addSrc := cfg.LogLevel == slog.LevelDebug

			// Set up slog to output as json with configured level. Logs go to stderr so
			// command output on stdout stays machine-readable.
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level:     cfg.LogLevel,
				AddSource: addSrc,
			})))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&st.envFile, "env-file", ".env", "optional KEY=VALUE file loaded before the environment is read")
	root.PersistentFlags().StringVar(&st.scope, "scope", store.DefaultScope, "browser scope to operate on (value of the obol_scope cookie)")

	root.AddCommand(newServeCmd(st))
	root.AddCommand(newStatusCmd(st))
	root.AddCommand(newExportCmd(st))
	root.AddCommand(newRefreshCmd(st))
	root.AddCommand(newDisconnectCmd(st))
	root.AddCommand(newConfigureCmd(st))
	return root
}

func newServeCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, st.cfg, nil)
		},
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	// Close at end of run func
	defer a.Close()

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(a.handler(), a.metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("obol listening", "addr", ln.Addr().String(), "store", cfg.Store, "backend", cfg.BackendURL)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	// Stop accepting, then wait up to 30s for in-flight requests to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(auth.AccessLog())
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.CheckHealth)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Browser-scoped routes; every store access below is namespaced by the scope cookie.
	r.Group(func(r chi.Router) {
		r.Use(h.BrowserScope)

		r.Get("/connect/{provider}", h.Connect)
		r.Get("/oauth_callback", h.Callback)
		r.Get("/oauth_callback/{provider}", h.Callback)

		r.Get("/connections", h.Connections)
		r.Post("/connections/{provider}/refresh", h.RefreshConnection)
		r.Delete("/connections/{provider}", h.Disconnect)
		r.Get("/export", h.Export)

		r.Get("/config/providers", h.ListProviders)
		r.Put("/config/providers/{provider}", h.SaveProvider)
		r.Delete("/config/providers/{provider}", h.DeleteProvider)
	})

	return r
}
