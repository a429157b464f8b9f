package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/chatvault/internal/errcode"
	"github.com/basket/chatvault/internal/shared"
)

type smokeArgs struct {
	VaultDir string
	Import   string
	Sentinel string
	Provider string
	Out      string
}

// smokeReport is the machine-readable result the release driver consumes.
type smokeReport struct {
	AppVersion   string `json:"app_version"`
	CommitSHA    string `json:"commit_sha"`
	GoVersion    string `json:"go_version"`
	Platform     string `json:"platform"`
	Provider     string `json:"provider"`
	FixtureName  string `json:"fixture_name"`
	Sentinel     string `json:"sentinel"`
	Pass         bool   `json:"pass"`
	ImportMS     int64  `json:"import_ms"`
	SearchHits   int    `json:"search_hits"`
	SearchMS     int64  `json:"search_ms"`
	WipeOK       bool   `json:"wipe_ok"`
	PostWipeHits int    `json:"post_wipe_hits"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// runSmoke exercises the full pipeline against an injected vault dir:
// import, sentinel search, wipe, post-wipe search. Exit code 0 = pass.
func runSmoke(ctx context.Context, args smokeArgs) int {
	report := smokeReport{
		AppVersion:  Version,
		CommitSHA:   CommitSHA,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS,
		Provider:    args.Provider,
		FixtureName: filepath.Base(args.Import),
		Sentinel:    args.Sentinel,
	}

	fail := func(err error) int {
		report.Pass = false
		report.ErrorCode = errcode.CodeOf(err)
		report.ErrorMessage = shared.RedactPaths(err.Error())
		return writeSmokeReport(args.Out, report)
	}

	if args.VaultDir == "" || args.Import == "" || args.Sentinel == "" || args.Provider == "" || args.Out == "" {
		return fail(fmt.Errorf("smoke requires --vault-dir, --import, --sentinel, --provider, and --smoke-out"))
	}

	e, err := bootstrap(ctx, args.VaultDir, true)
	if err != nil {
		return fail(err)
	}
	defer e.Close()

	importStarted := time.Now()
	if _, err := e.controller.ImportHeadless(ctx, args.Provider, args.Import); err != nil {
		return fail(err)
	}
	report.ImportMS = time.Since(importStarted).Milliseconds()

	searchStarted := time.Now()
	hits, err := e.store.Search(ctx, args.Sentinel)
	if err != nil {
		return fail(err)
	}
	report.SearchMS = time.Since(searchStarted).Milliseconds()
	report.SearchHits = len(hits)
	if len(hits) == 0 {
		return fail(fmt.Errorf("sentinel %q not found after import", args.Sentinel))
	}

	if _, err := e.store.Wipe(ctx); err != nil {
		return fail(err)
	}
	report.WipeOK = true

	postHits, err := e.store.Search(ctx, args.Sentinel)
	if err != nil {
		return fail(err)
	}
	report.PostWipeHits = len(postHits)
	if len(postHits) != 0 {
		return fail(fmt.Errorf("sentinel still searchable after wipe"))
	}

	report.Pass = true
	return writeSmokeReport(args.Out, report)
}

func writeSmokeReport(outPath string, report smokeReport) int {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal smoke report: %v\n", err)
		return 1
	}
	b = append(b, '\n')
	if outPath != "" {
		if err := os.WriteFile(outPath, b, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write smoke report: %v\n", err)
			return 1
		}
	} else {
		_, _ = os.Stdout.Write(b)
	}
	if report.Pass {
		return 0
	}
	return 1
}
