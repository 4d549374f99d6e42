// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ignition runs phased component bring-up from a YAML manifest.
//
// Usage:
//
//	# Run the embedded example manifest
//	ignition run
//
//	# Run a manifest with the HTTP API exposed
//	ignition run --manifest deploy.yaml --listen :8090
//
//	# Validate a manifest without running it
//	ignition validate --manifest deploy.yaml
//
//	# Print the embedded example manifest
//	ignition example
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
