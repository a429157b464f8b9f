package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/basket/chatvault/internal/config"
)

// runStatusCommand asks a running daemon first; with no daemon it opens
// the vault directly and reports from there.
func runStatusCommand(ctx context.Context, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+cfg.BindAddr+"/status", nil)
	if err == nil {
		if resp, err := client.Do(req); err == nil {
			defer resp.Body.Close()
			var body map[string]any
			if json.NewDecoder(resp.Body).Decode(&body) == nil {
				fmt.Fprintf(os.Stdout, "daemon: running on %s\n", cfg.BindAddr)
				fmt.Fprintf(os.Stdout, "status: %v, local_only: %v\n", body["status"], body["localOnly"])
				fmt.Fprintf(os.Stdout, "vault:  %v\n", body["vaultPath"])
				return 0
			}
		}
	}

	e, err := bootstrap(ctx, "", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return 1
	}
	defer e.Close()

	d, err := e.store.CollectDiagnostics(ctx, Version, CommitSHA != "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "diagnostics: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "daemon: not running\n")
	fmt.Fprintf(os.Stdout, "vault:  %s\n", e.store.Paths().Vault)
	fmt.Fprintf(os.Stdout, "schema: v%d, db %d bytes, artifacts %d bytes\n",
		d.Vault.SchemaVersion, d.Vault.DBSizeBytes, d.Vault.ArtifactsTotalBytes)
	fmt.Fprintf(os.Stdout, "runs:   %v\n", d.Ingestion.RunsSummary)
	return 0
}
