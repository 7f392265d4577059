// Command runlog normalizes metric trees, replays them as runs and queries
// stored runs.
//
// Usage:
//
//	runlog [--config FILE] [--json] <command> [flags]
//
// Commands:
//
//	flatten  Print the normalized map of JSON metric trees
//	replay   Log JSON metric trees as a run
//	serve    Serve stored runs over HTTP
//	runs     List stored runs
//	keys     List stored keys
//	series   Show the stored points of a key
//	summary  Summarise a stored run
//	export   Export a stored run as JSON
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/thisdougb/runlog/internal/cli"
)

// version is set with ldflags at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := cli.NewRootCmd(cli.Options{Version: version})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
