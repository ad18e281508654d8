package main

import (
	"context"
	"os"

	"github.com/adanyl0v/go-task-manager/internal/app"
)

func main() {
	logger := app.NewDefaultLogger()

	err := newRootCommand(logger).ExecuteContext(context.Background())
	if err != nil {
		logger.Error().
			Err(err).
			Msg("exiting")
		os.Exit(1)
	}
}
