package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

func runSearchCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: chatvault search <query>")
		return 2
	}
	query := strings.Join(args, " ")

	e, err := bootstrap(ctx, "", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return 1
	}
	defer e.Close()

	hits, err := e.store.Search(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		return 1
	}
	if len(hits) == 0 {
		fmt.Fprintln(os.Stdout, "no matches")
		return 0
	}
	// Truncate only for a human at a terminal; pipes get the full content.
	truncate := isatty.IsTerminal(os.Stdout.Fd())
	for _, h := range hits {
		title := h.ThreadTitle
		if title == "" {
			title = "(untitled)"
		}
		snippet := strings.ReplaceAll(h.Content, "\n", " ")
		if truncate && len(snippet) > 120 {
			snippet = snippet[:120] + "..."
		}
		fmt.Fprintf(os.Stdout, "[%s] %s (%s): %s\n", h.Provider, title, h.Role, snippet)
	}
	return 0
}
