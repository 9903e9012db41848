// Command newscast plays the daily news brief and answers spoken questions
// about it through the newscast backend.
//
// Usage:
//
//	newscast [--config path] <command> [subcommand] [options]
//
// `listen` runs the interactive session and serves the local control page.
// The other commands manage the account, preferences and cached briefs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:           "newscast",
		Usage:          "Daily news brief with spoken Q&A",
		Version:        version,
		ExitErrHandler: exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "newscast.yaml",
				EnvVars: []string{"NEWSCAST_CONFIG"},
				Usage:   "Path to the YAML config file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"NEWSCAST_LOG_LEVEL"},
				Usage:   "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			listenCommand(),
			loginCommand(),
			logoutCommand(),
			prefsCommand(),
			briefCommand(),
			historyCommand(),
			vadCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler keeps exit codes from cli.Exit and prints everything else.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
