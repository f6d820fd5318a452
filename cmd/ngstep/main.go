package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/barysiuk/ngstep/cmd/ngstep/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
