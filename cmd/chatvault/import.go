package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/basket/chatvault/internal/errcode"
)

func runImportCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("chatvault import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	provider := fs.String("provider", "", "provider tag: chatgpt, claude, or gemini")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *provider == "" || len(fs.Args()) != 1 {
		fmt.Fprintln(os.Stderr, "usage: chatvault import --provider <tag> <file>")
		return 2
	}

	absPath, err := filepath.Abs(fs.Args()[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve path: %v\n", err)
		return 1
	}

	e, err := bootstrap(ctx, "", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return 1
	}
	defer e.Close()

	result, err := e.controller.ImportHeadless(ctx, *provider, absPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %s (run %d)\n", errcode.CodeOf(err), result.RunID)
		return 1
	}
	fmt.Fprintf(os.Stdout, "imported: run %d, artifact %d\n", result.RunID, result.ArtifactID)
	return 0
}
