/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
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
	"go.uber.org/zap"

	"github.com/valpere/parserport/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversion web interface",
	Long: `Start an HTTP server with a page that runs the batch conversion and streams
its progress, plus JSON endpoints:

  GET  /start-conversion   batch run as a server-sent event stream
  POST /api/convert        convert one record
  GET  /api/runs           run history
  GET  /healthz            health check
  GET  /metrics            Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !cfg.Log.Development {
			gin.SetMode(gin.ReleaseMode)
		}

		applyConvertFlags()
		a, err := buildApp(ctx, cfg, !noHistory)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.New(server.Options{
			Pipeline: a.pipeline,
			Driver:   a.driver,
			Store:    a.store,
			Metrics:  a.metrics,
			Lang:     cfg.Paths.Lang,
			Version:  version,
			Logger:   logger.Named("server"),
		})

		// No write timeout: conversion streams run for as long as the batch.
		httpServer := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server listening", zap.String("addr", cfg.Server.Addr), zap.String("backend", a.completer.Name()))
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addLLMFlags(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("archive", "parsers.zip", "Path of the ZIP archive")
	serveCmd.Flags().String("upload", "fileio", "Upload backend (fileio, s3, none)")
	serveCmd.Flags().BoolVar(&noExtract, "no-extract", false, "Use the existing records file instead of running the extractor")
}
