package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"amicare/internal/config"
	"amicare/internal/logging"
	"amicare/internal/realtime"
)

func main() {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local care marketplace backend with live session rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Sandbox.Port = port
			}
			return run(cfg, configPath)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "amicare.yaml", "config file")
	cmd.Flags().IntVarP(&port, "port", "p", 8420, "listen port")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	logging.Configure(cfg.Log)
	log := logging.NewLogger("sandbox")

	store := realtime.NewStore(nil)
	if cfg.Sandbox.Fixtures != "" {
		f, err := os.Open(cfg.Sandbox.Fixtures)
		if err != nil {
			return fmt.Errorf("open fixtures: %w", err)
		}
		err = store.Load(f)
		f.Close()
		if err != nil {
			return err
		}
		log.WithField("file", cfg.Sandbox.Fixtures).Info("fixtures loaded")
	}

	srv := realtime.New(store, realtime.Options{
		HistorySize: cfg.Sandbox.History,
		Token:       cfg.Backend.Token,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Sandbox.Port),
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Log settings follow the config file while running.
	if _, err := os.Stat(configPath); err == nil {
		w, err := config.NewWatcher(configPath, func(c *config.Config) {
			logging.Configure(c.Log)
		}, log)
		if err != nil {
			log.WithError(err).Warn("config watcher unavailable")
		} else {
			go w.Run(ctx)
		}
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.WithField("port", cfg.Sandbox.Port).Infof("sandbox running on http://localhost:%d", cfg.Sandbox.Port)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
