// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

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

	"github.com/marginalia-chat/marginalia/annotation"
	"github.com/marginalia-chat/marginalia/api"
	"github.com/marginalia-chat/marginalia/bots"
	"github.com/marginalia-chat/marginalia/config"
	"github.com/marginalia-chat/marginalia/conversations"
	"github.com/marginalia-chat/marginalia/i18n"
	"github.com/marginalia-chat/marginalia/logger"
	"github.com/marginalia-chat/marginalia/metrics"
	"github.com/marginalia-chat/marginalia/prompts"
	"github.com/marginalia-chat/marginalia/segments"
	"github.com/marginalia-chat/marginalia/session"
	"github.com/marginalia-chat/marginalia/streaming"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

const (
	defaultListenAddress = ":8428"
	shutdownTimeout      = 10 * time.Second
)

func main() {
	root := &cobra.Command{
		Use:          "marginaliad",
		Short:        "Marginalia annotated-chat server",
		SilenceUsage: true,
	}

	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "config.json", "path to the configuration file")

	root.AddCommand(serve)
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting marginaliad", "version", version, "config", configPath)

	container := &config.Container{}
	container.Update(cfg)

	m := metrics.NewMetrics(metrics.InstanceInfo{Version: version})
	bundle := i18n.Init()

	assistants := bots.New(container, &http.Client{}, log, m)
	if err := assistants.EnsureAssistants(); err != nil {
		return fmt.Errorf("failed to initialize assistants: %w", err)
	}
	container.RegisterUpdateListener(func() {
		if err := assistants.EnsureAssistants(); err != nil {
			log.Error("failed to reload assistants", "error", err)
		}
	})

	store := annotation.NewStore()
	formatter, err := prompts.NewFormatter()
	if err != nil {
		return fmt.Errorf("failed to build prompt formatter: %w", err)
	}
	streamService := streaming.NewMessageStreamService(log, bundle)
	conversationsService := conversations.New(assistants, store, formatter, streamService, log)
	sessionManager := session.NewManager(store, conversationsService.LookupPlainText, log)

	handler := api.New(conversationsService, store, segments.NewCache(), sessionManager, streamService, m, log, bundle)

	listenAddress := cfg.HTTP.ListenAddress
	if listenAddress == "" {
		listenAddress = defaultListenAddress
	}

	server := &http.Server{
		Addr:        listenAddress,
		Handler:     handler,
		ReadTimeout: time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		// WriteTimeout is left to the config owner; message streams are
		// long-lived SSE responses and a short write timeout severs them.
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSeconds) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "address", listenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
