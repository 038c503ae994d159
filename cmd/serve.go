package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"chatflow/runtime"
)

var (
	serveAddr  string
	serveFlows string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the flow engine HTTP server",
	Long: `Serve loads the config and the flow files, initializes the configured
store and adapters, and exposes the engine to the messaging gateway.

Example:
  chatflow serve --config chatflow.yaml
  chatflow serve --addr :9000 --flows ./flows
`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides server.addr")
	serveCmd.Flags().StringVar(&serveFlows, "flows", "", "Flows directory, overrides flows.dir")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, configPath, awsRegion)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveFlows != "" {
		cfg.Flows.Dir = serveFlows
	}

	l := runtime.NewLogger(cfg.Log)
	gin.SetMode(cfg.Server.Mode)

	container, flows, err := buildContainer(l, cfg)
	if err != nil {
		return err
	}
	app, err := runtime.NewApp(l, cfg.Engine, container)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("error starting adapters: %w", err)
	}
	if err := seedFlows(ctx, l, cfg, container, flows); err != nil {
		_ = app.Shutdown(context.Background())
		return err
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: app.Router()}
	serveErr := make(chan error, 1)
	go func() {
		l.Info("Server listening", "addr", cfg.Server.Addr, "store", cfg.Store.Backend, "flows", len(flows))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		l.Info("Shutting down")
	case err = <-serveErr:
		l.Error("Server stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, srv.Shutdown(shutdownCtx), app.Shutdown(shutdownCtx))
}
