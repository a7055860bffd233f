// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arborly/codexd/internal/app"
)

var version = "0.1"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		bind        string
		dataDir     string
		codexPath   string
		codexHome   string
		webDist     string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to HJSON config file (optional)")
	flag.StringVar(&bind, "bind", "", "HTTP listen address (default 127.0.0.1:8765)")
	flag.StringVar(&bind, "b", "", "HTTP listen address (short)")
	flag.StringVar(&dataDir, "data-dir", "", "Root directory for this service's own session state")
	flag.StringVar(&codexPath, "codex-path", "", "Path to the agent CLI executable")
	flag.StringVar(&codexHome, "codex-home", "", "Agent's own home directory (rollouts, skills, titles)")
	flag.StringVar(&webDist, "web-dist", "", "Path to pre-built static web assets, if any")
	flag.StringVar(&logLevel, "log-level", "", "One of debug, info, warn, error (default info)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("codexd %s\n", version)
		os.Exit(0)
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Bind:       bind,
		DataDir:    dataDir,
		CodexPath:  codexPath,
		CodexHome:  codexHome,
		WebDist:    webDist,
		LogLevel:   logLevel,
	})
	if err != nil {
		log.Fatalf("failed to create app: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := application.Run(context.Background(), sigCh); err != nil {
		log.Fatalf("app error: %v", err)
	}
}

// runInit scaffolds a starter trellis-style HJSON config for the agent
// bridge into the current directory and exits without starting the server.
func runInit() error {
	const configFile = "codexd.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	content := `{
  // codexd configuration. See --help for the flags that override these
  // values at startup.

  server: {
    // Address the HTTP/SSE surface listens on. Loopback only; this bridge
    // has no TLS or auth layer of its own.
    bind: "127.0.0.1:8765"
  }

  agent: {
    // Root directory for this service's own session metadata, event logs,
    // and usage ledger.
    // data_dir: "~/.codexd"

    // Path to the agent CLI executable, spawned in "app-server" mode.
    // codex_path: "codex"

    // The agent's own home directory, containing its session rollouts,
    // skills, and thread titles. Defaults to $CODEX_HOME or ~/.codex.
    // codex_home: "~/.codex"

    // Pre-built static web asset directory, if serving a bundled UI.
    // web_dist: ""
  }

  logging: {
    // One of debug, info, warn, error.
    level: "info"
  }
}
`

	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created %s\n", configFile)
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit codexd.hjson as needed")
	fmt.Println("  2. Run: ./codexd --config codexd.hjson")
	fmt.Println("  3. Open: http://127.0.0.1:8765/healthz")

	return nil
}
