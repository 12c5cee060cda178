// Command textgo manages a textgo index from the shell.
//
//	textgo -d ./data add 1 "the quick brown fox" -f title="Fox"
//	textgo -d ./data search 'quick AND NOT lazy' -n 5
//	textgo -d ./data backup --to /backups/textgo
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/textgo/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	os.Exit(code)
}
