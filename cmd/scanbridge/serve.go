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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"scanbridge/internal/config"
	"scanbridge/internal/detect"
	"scanbridge/internal/logging"
	"scanbridge/internal/realtime"
	"scanbridge/internal/session"
	"scanbridge/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket bridge and REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Port = port
			}
			return serve(cmd, cfg, path)
		},
	}
	cmd.Flags().IntP("port", "p", 0, "Listen port (overrides config)")
	return cmd
}

// managerOptions builds session manager settings from cfg.
func managerOptions(cfg config.Config) (session.Options, error) {
	symbologies, err := detect.ParseSymbologies(cfg.Scan.Symbologies)
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		MaxSessions: cfg.MaxSessions,
		HistorySize: cfg.HistorySize,
		Tolerance:   cfg.Scan.Tolerance,
		Debounce:    cfg.Scan.Debounce,
		Haptic:      cfg.Scan.Haptic,
		Decoder:     detect.NewDetector(symbologies, cfg.Scan.TryHarder),
	}, nil
}

func serve(cmd *cobra.Command, cfg config.Config, path string) error {
	log := logging.NewLogger("server")

	opts, err := managerOptions(cfg)
	if err != nil {
		return err
	}
	sessMgr := session.NewManager(opts)
	rtServer := realtime.New(sessMgr, cfg.StaticDir)

	if path == "" {
		if _, statErr := os.Stat(config.DefaultFile); statErr == nil {
			path = config.DefaultFile
		}
	}
	if path != "" {
		cfgWatch, err := watcher.New(path, func(next config.Config) {
			configureLogging(cmd, next)
			nextOpts, err := managerOptions(next)
			if err != nil {
				log.WithError(err).Warn("ignoring reloaded scan settings")
				return
			}
			sessMgr.Reconfigure(nextOpts)
		})
		if err != nil {
			log.WithError(err).Warn("config hot reload disabled")
		} else {
			defer cfgWatch.Close()
		}
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: rtServer.Handler(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		sessMgr.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{
		"port":        cfg.Port,
		"maxSessions": cfg.MaxSessions,
		"tolerance":   cfg.Scan.Tolerance,
	}).Info("scanbridge listening")

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
