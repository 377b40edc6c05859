// Command neuromancer runs the executor and librarian processes of a
// neuromancer fleet.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := App().RunContext(ctx, os.Args); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, err)
		stop()
		os.Exit(1)
	}
}
