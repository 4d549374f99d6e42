// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ignition/loader"
	"github.com/AleutianAI/ignition/logging"
	"github.com/AleutianAI/ignition/manifest"
	"github.com/AleutianAI/ignition/resource"
	"github.com/AleutianAI/ignition/server"
	"github.com/AleutianAI/ignition/telemetry"
)

var (
	manifestPath string
	listenAddr   string
	debugMode    bool
	logDir       string
	logJSON      bool

	rootCmd = &cobra.Command{
		Use:   "ignition",
		Short: "Phased, dependency-aware component bring-up",
		Long: `Ignition loads components in phases, honoring dependencies and
priorities, with bounded concurrency, retries, fallbacks, and live
progress reporting.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a bring-up manifest",
		Long: `Loads the manifest, registers its components, and runs the
phased bring-up to completion. With --listen, the HTTP API serves live
progress and a WebSocket event stream while the run executes.`,
		RunE: runRun,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate a manifest without running it",
		RunE:  runValidate,
	}

	exampleCmd = &cobra.Command{
		Use:   "example",
		Short: "Print the embedded example manifest",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(string(manifest.ExampleYAML()))
		},
	}
)

func init() {
	runCmd.Flags().StringVar(&manifestPath, "manifest", "",
		"Manifest file path (default: embedded example)")
	runCmd.Flags().StringVar(&listenAddr, "listen", "",
		"Serve the HTTP API on this address while running (e.g. :8090)")
	runCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	runCmd.Flags().StringVar(&logDir, "log-dir", "",
		"Also write JSON logs to this directory")
	runCmd.Flags().BoolVar(&logJSON, "log-json", false,
		"Write stderr logs as JSON")

	validateCmd.Flags().StringVar(&manifestPath, "manifest", "",
		"Manifest file path (default: embedded example)")

	rootCmd.AddCommand(runCmd, validateCmd, exampleCmd)
}

// loadManifest reads --manifest, falling back to the embedded example.
func loadManifest() (*manifest.Manifest, error) {
	if manifestPath == "" {
		return manifest.Example()
	}
	return manifest.Load(manifestPath)
}

func runValidate(cmd *cobra.Command, args []string) error {
	m, err := loadManifest()
	if err != nil {
		return err
	}
	cmd.Printf("Manifest OK: %d components\n", len(m.Components))
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	level := "info"
	if debugMode {
		level = "debug"
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger, closeLog := logging.Setup(logging.Config{
		Level:   level,
		Service: "ignition",
		JSON:    logJSON,
		LogDir:  logDir,
	})
	slog.SetDefault(logger)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "closing log sink: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	m, err := loadManifest()
	if err != nil {
		return err
	}

	var monitorOpts []resource.RuntimeMonitorOption
	if m.Scheduler.ResourceCheckInterval > 0 {
		monitorOpts = append(monitorOpts, resource.WithInterval(m.Scheduler.ResourceCheckInterval))
	}
	monitor := resource.NewRuntimeMonitor(monitorOpts...)
	go monitor.Start(ctx)
	defer monitor.Stop()

	sched, err := loader.New(m.Scheduler, loader.WithMonitor(monitor))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := m.Apply(sched); err != nil {
		return err
	}

	var srv *http.Server
	if listenAddr != "" {
		router := server.NewRouter(server.NewHandlers(sched))
		srv = &http.Server{Addr: listenAddr, Handler: router}
		go func() {
			slog.Info("Serving HTTP API", slog.String("address", listenAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("HTTP server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	result, err := sched.StartLoading(ctx)
	if err != nil {
		return fmt.Errorf("bring-up failed: %w", err)
	}

	printSummary(result)
	if !result.Success {
		return fmt.Errorf("bring-up %s", outcomeWord(result))
	}
	return nil
}

// printSummary writes the run outcome in the order components settled.
func printSummary(result *loader.Result) {
	fmt.Printf("\nBring-up %s in %s\n", outcomeWord(result), result.Duration.Round(time.Millisecond))
	fmt.Printf("  loaded:   %d\n", len(result.Loaded))
	if len(result.Failed) > 0 {
		fmt.Printf("  failed:   %d\n", len(result.Failed))
		for _, id := range result.Failed {
			fmt.Printf("    - %s\n", id)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Printf("  skipped:  %d\n", len(result.Skipped))
	}
}

func outcomeWord(result *loader.Result) string {
	switch {
	case result.Aborted:
		return "aborted"
	case result.Success:
		return "succeeded"
	default:
		return "completed with failures"
	}
}
