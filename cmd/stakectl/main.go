// Command stakectl is the operator CLI for the staking engine. Each
// subcommand runs one engine operation against the configured database and
// prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/alanyoungcy/stakingengine/internal/app"
	"github.com/alanyoungcy/stakingengine/internal/config"
)

// command is one stakectl subcommand. run parses args and writes output.
type command struct {
	usage string
	run   func(ctx context.Context, env *env, args []string) error
}

// env carries what every subcommand needs.
type env struct {
	deps *app.Dependencies
	out  io.Writer
}

var commands = map[string]command{
	"create":          {"create -owner O -pool CODE|ID -amount A", runCreate},
	"accrue":          {"accrue -position ID", runAccrue},
	"claim":           {"claim -position ID -owner O [-key K]", runClaim},
	"unstake-prepare": {"unstake-prepare -position ID -owner O", runUnstakePrepare},
	"unstake-confirm": {"unstake-confirm -position ID -owner O -key K", runUnstakeConfirm},
	"sweep":           {"sweep", runSweep},
	"pools":           {"pools", runPools},
	"position":        {"position -position ID", runPosition},
	"positions":       {"positions -owner O [-limit N] [-offset N]", runPositions},
	"rewards":         {"rewards -position ID [-limit N]", runRewards},
	"events":          {"events -position ID [-limit N]", runEvents},
	"watch":           {"watch [-recent N]", runWatch},
}

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults and env only)")
	verbose := flag.Bool("v", false, "log at debug level to stderr")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "stakectl: unknown command %q\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, cmd, flag.Args()[1:], logger); err != nil {
		fmt.Fprintf(os.Stderr, "stakectl: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func run(configPath string, cmd command, args []string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := app.Wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return cmd.run(ctx, &env{deps: deps, out: os.Stdout}, args)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: stakectl [-config path] [-v] <command> [flags]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var errUsage = errors.New("usage")
