// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range testCases {
		if got := ParseLevel(tc.name); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSetup_FileSink(t *testing.T) {
	dir := t.TempDir()

	logger, closeFile := Setup(Config{
		Level:   "debug",
		Service: "boot",
		LogDir:  dir,
		Quiet:   true,
	})

	logger.Info("component loaded", slog.String("component", "db"))
	if err := closeFile(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v (%v)", entries, err)
	}
	if !strings.HasPrefix(entries[0].Name(), "boot_") {
		t.Errorf("log file name = %s, want boot_ prefix", entries[0].Name())
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	// File sink is JSON with the service attribute attached.
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("file log not JSON: %v\n%s", err, data)
	}
	if record["msg"] != "component loaded" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["service"] != "boot" {
		t.Errorf("service = %v", record["service"])
	}
	if record["component"] != "db" {
		t.Errorf("component = %v", record["component"])
	}
}

func TestSetup_LevelFilter(t *testing.T) {
	dir := t.TempDir()

	logger, closeFile := Setup(Config{
		Level:  "error",
		LogDir: dir,
		Quiet:  true,
	})

	logger.Info("filtered out")
	logger.Error("kept")
	if err := closeFile(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Error("info record written at error level")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("error record missing")
	}
}

func TestSetup_QuietWithoutFile(t *testing.T) {
	logger, closeFile := Setup(Config{Quiet: true})
	defer closeFile()

	// Must not panic and must report disabled.
	logger.Info("dropped")
	if logger.Enabled(t.Context(), slog.LevelError) {
		t.Error("discard logger reports enabled")
	}
}

func TestSetup_CloseIdempotentWithoutFile(t *testing.T) {
	_, closeFile := Setup(Config{})
	if err := closeFile(); err != nil {
		t.Errorf("close without file sink: %v", err)
	}
}
