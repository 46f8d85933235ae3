// Command gosession runs the reference session server and its admin tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v3"
)

var Version = "dev"

func versionString() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, kv := range info.Settings {
			if kv.Key == "vcs.revision" {
				return "dev-" + kv.Value
			}
		}
	}
	return Version
}

//nolint:forbidigo
func main() {
	cmd := &cli.Command{
		Name:    "gosession",
		Usage:   "session and login server",
		Version: versionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:      "config",
				Aliases:   []string{"c"},
				Usage:     "TOML configuration file",
				Sources:   cli.EnvVars("GOSESSION_CONFIG"),
				Config:    cli.StringConfig{TrimSpace: true},
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:      "env-file",
				Value:     ".env",
				Usage:     "dotenv file with GOSESSION_* overrides; ignored when missing",
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:    "log.level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("GOSESSION_LOGLEVEL"),
			},
			&cli.StringFlag{
				Name:    "log.format",
				Value:   "console",
				Usage:   "Log format (console, json)",
				Sources: cli.EnvVars("GOSESSION_LOGFORMAT"),
			},
		},
		Commands: []*cli.Command{
			newServeCmd(),
			newMigrateCmd(),
			usersSubCmd(),
			sessionsSubCmd(),
			newAuditCmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func usersSubCmd() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "manage directory users",
		Commands: []*cli.Command{
			newAddUserCmd(),
			newPasswordCmd(),
			newLockUserCmd(),
		},
	}
}

func sessionsSubCmd() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "manage sessions",
		Commands: []*cli.Command{
			newClearSessionsCmd(),
			newLogoutUserCmd(),
		},
	}
}
