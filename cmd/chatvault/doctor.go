package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/basket/chatvault/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("chatvault doctor", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	jsonOut := fs.Bool("json", false, "emit JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := bootstrap(ctx, "", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return 1
	}
	defer e.Close()

	d := doctor.Run(ctx, &e.cfg, e.store, Version)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprintf(os.Stdout, "chatvault %s (%s/%s, %s)\n\n", d.System.Version, d.System.OS, d.System.Arch, d.System.Go)
		for _, r := range d.Results {
			fmt.Fprintf(os.Stdout, "%-4s %-10s %s\n", r.Status, r.Name, r.Message)
			if r.Detail != "" {
				fmt.Fprintf(os.Stdout, "     %s\n", r.Detail)
			}
		}
	}

	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return 1
		}
	}
	return 0
}
