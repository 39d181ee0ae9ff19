package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/alem-hub/habit-engine/config"
	"github.com/alem-hub/habit-engine/internal/cli"
)

var version = "dev"

var CLI struct {
	Version kong.VersionFlag
	Env     []string `help:"Env files to load before reading the environment." default:".env"`
	JSON    bool     `help:"Print JSON instead of text."`

	Migrate     cli.MigrateCmd     `cmd:"" help:"Manage the Postgres schema."`
	Record      cli.RecordCmd      `cmd:"" help:"Record a habit completion."`
	Subscribe   cli.SubscribeCmd   `cmd:"" help:"Subscribe a user to a routine."`
	Unsubscribe cli.UnsubscribeCmd `cmd:"" help:"Remove a routine's habits from a user."`
	Today       cli.TodayCmd       `cmd:"" help:"Show today's habits."`
	Summary     cli.SummaryCmd     `cmd:"" help:"Show a user's progress."`
	Next        cli.NextCmd        `cmd:"" help:"Show the closest locked achievement."`
	Flags       cli.FlagsCmd       `cmd:"" help:"List feature flags."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("habitctl"),
		kong.Description("Habit tracking and achievement engine"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{"version": version},
	)

	cfg, err := config.Load(CLI.Env...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCtx := &cli.Context{
		Ctx:    runCtx,
		Config: cfg,
		Out:    os.Stdout,
		JSON:   CLI.JSON,
	}

	err = ctx.Run(appCtx)
	if cerr := appCtx.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
