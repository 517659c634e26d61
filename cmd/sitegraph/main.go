// Command sitegraph is the operator CLI. It runs the orchestrator in-process
// against the configured database, storage, and Redis.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: sitegraph <command> [flags]

commands:
  submit    register a site document and start its extraction
  ask       answer a question from records and documents
  status    show a run
  reviews   list open review tasks
  resolve   apply a verdict to a review task
  cancel    cancel a run
  resubmit  re-extract the document of a run`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sitegraph:", err)
		os.Exit(1)
	}

	err = cmd(ctx, a.orchestrator(), os.Args[2:], os.Stdout)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sitegraph:", err)
		os.Exit(1)
	}
}
