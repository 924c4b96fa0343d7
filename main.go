package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chronicle-rpg/chronicle/internal/cmd/ingest"
	"github.com/chronicle-rpg/chronicle/internal/cmd/migrate"
	"github.com/chronicle-rpg/chronicle/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "chronicle",
		Usage: "Campaign memory and context assembly engine for AI-run tabletop RPGs",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			ingest.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
