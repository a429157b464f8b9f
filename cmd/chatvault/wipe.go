package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func runWipeCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("chatvault wipe", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	yes := fs.Bool("yes", false, "confirm: remove every artifact and all rows")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !*yes {
		fmt.Fprintln(os.Stderr, "wipe removes every archived conversation; pass --yes to confirm")
		return 2
	}

	e, err := bootstrap(ctx, "", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return 1
	}
	defer e.Close()

	removed, err := e.store.Wipe(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wipe failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "vault wiped (%d artifact files removed)\n", removed)
	return 0
}
