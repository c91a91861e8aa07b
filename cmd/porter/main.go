// Command porter plans and runs row migrations between relational databases.
//
//	porter inspect --config porter.yaml --out entities.yaml
//	porter analyze --entities entities.yaml --out migration_plan
//	porter migrate --config porter.yaml --plan migration_plan.json
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp(os.Stdin, os.Stdout, os.Stderr).command().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "porter:", err)
		stop()
		os.Exit(1)
	}
}
