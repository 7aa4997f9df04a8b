// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/pingkit/cmd/pingkit/cli"
	"github.com/bureau-foundation/pingkit/lib/config"
	"github.com/bureau-foundation/pingkit/lib/localcore"
	"github.com/bureau-foundation/pingkit/lib/logging"
	"github.com/bureau-foundation/pingkit/lib/process"
	"github.com/bureau-foundation/pingkit/lib/telemetry"
	"github.com/bureau-foundation/pingkit/lib/version"
)

// streams are the standard streams commands read and write.
type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func standardStreams() streams {
	return streams{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
}

func root(std streams) *cli.Command {
	return &cli.Command{
		Name: "pingkit",
		Description: `pingkit: telemetry ping storage and upload.

Pings are stored under the configured data directory and uploaded by a
worker process, one upload cycle at a time.`,
		Output: std.stderr,
		Subcommands: []*cli.Command{
			submitCommand(std),
			uploadCommand(std),
			pendingCommand(std),
			countersCommand(std),
			versionCommand(std),
		},
	}
}

// configFlag registers --config on flagSet.
func configFlag(flagSet *pflag.FlagSet, path *string) {
	flagSet.StringVar(path, "config", "", "config file (default: $PINGKIT_CONFIG, else built-in defaults)")
}

// loadSettings reads path, then PINGKIT_CONFIG, then falls back to
// the defaults.
func loadSettings(path string) (*config.Config, error) {
	var (
		settings *config.Config
		err      error
	)
	switch {
	case path != "":
		settings, err = config.LoadFile(path)
	case os.Getenv("PINGKIT_CONFIG") != "":
		settings, err = config.Load()
	default:
		settings = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

func newLogger(settings *config.Config, w io.Writer) *slog.Logger {
	level, err := logging.ParseLevel(settings.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.New(level, w)
}

// openClient builds and initializes a telemetry client. Initialize
// dispatches an upload when pings are already pending.
func openClient(ctx context.Context, settings *config.Config, std streams) (*telemetry.Client, error) {
	client, err := telemetry.New(telemetry.Config{
		Settings: settings,
		Stderr:   std.stderr,
		Logger:   newLogger(settings, std.stderr),
	})
	if err != nil {
		return nil, err
	}
	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// openCore initializes a local core over the configured data directory
// for read-only inspection.
func openCore(ctx context.Context, settings *config.Config, std streams) (*localcore.Core, error) {
	args := telemetry.NewUploadArgs(settings)
	core, err := localcore.New(localcore.Config{
		DataDir:                  args.DataDir,
		ApplicationID:            args.ApplicationID,
		UploadEnabled:            settings.UploadEnabled,
		MaxPingBodySize:          args.MaxPingBodySize,
		MaxPendingDirectoryBytes: args.MaxPendingDirectoryBytes,
		Logger:                   newLogger(settings, std.stderr),
	})
	if err != nil {
		return nil, err
	}
	if err := core.Initialize(ctx); err != nil {
		return nil, err
	}
	return core, nil
}

func submitCommand(std streams) *cli.Command {
	var (
		configPath string
		noWait     bool
	)
	return &cli.Command{
		Name:    "submit",
		Summary: "Store a ping and upload it",
		Description: `Store a ping and dispatch an upload cycle.

The payload is JSON, read from a file or from stdin when the file is
omitted or "-". Comments and trailing commas are accepted and stripped
before storing.`,
		Usage: "pingkit submit [flags] <ping-name> [payload-file]",
		Examples: []cli.Example{
			{Description: "Submit a metrics ping from a file", Command: "pingkit submit metrics metrics.json"},
			{Description: "Submit from stdin without waiting for the upload", Command: `echo '{"n": 1}' | pingkit submit --no-wait events`},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("submit", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&noWait, "no-wait", false, "return once the ping is stored, without waiting for the upload")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("usage: pingkit submit [flags] <ping-name> [payload-file]")
			}
			source := "-"
			if len(args) == 2 {
				source = args[1]
			}
			payload, err := readPayload(source, std.stdin)
			if err != nil {
				return err
			}

			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			client, err := openClient(ctx, settings, std)
			if err != nil {
				return err
			}

			client.SubmitPing(ctx, args[0], payload)
			if err := client.WaitIdle(ctx); err != nil {
				return err
			}
			if !noWait {
				client.WaitForUploads()
			}
			client.Shutdown(settings.Worker.ShutdownTimeout.Std())

			fmt.Fprintf(std.stdout, "submitted %s ping (%d bytes)\n", args[0], len(payload))
			return nil
		},
	}
}

// readPayload reads source ("-" is stdin) and strips JSONC comments
// and trailing commas.
func readPayload(source string, stdin io.Reader) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return jsonc.ToJSON(data), nil
}

func uploadCommand(std streams) *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "upload",
		Summary: "Run an upload cycle for pending pings",
		Description: `Run one upload cycle for pings left in the data directory.

Exits 1 when pings remain pending afterwards, for example because the
server answered with recoverable errors.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("upload", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			client, err := openClient(ctx, settings, std)
			if err != nil {
				return err
			}
			if err := client.WaitIdle(ctx); err != nil {
				return err
			}
			client.WaitForUploads()
			pending := client.Core().HasPendingPings()
			client.Shutdown(settings.Worker.ShutdownTimeout.Std())

			if pending {
				fmt.Fprintln(std.stdout, "pings remain pending")
				return &cli.ExitError{Code: process.ExitFailure}
			}
			fmt.Fprintln(std.stdout, "no pings pending")
			return nil
		},
	}
}

func pendingCommand(std streams) *cli.Command {
	var (
		configPath string
		outputJSON bool
	)
	return &cli.Command{
		Name:    "pending",
		Summary: "List pending ping document IDs, oldest first",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pending", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}
			core, err := openCore(context.Background(), settings, std)
			if err != nil {
				return err
			}
			defer core.Close()

			documentIDs, err := core.PendingPings()
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(std.stdout, documentIDs)
			}
			for _, documentID := range documentIDs {
				fmt.Fprintln(std.stdout, documentID)
			}
			fmt.Fprintf(std.stderr, "%d pending\n", len(documentIDs))
			return nil
		},
	}
}

func countersCommand(std streams) *cli.Command {
	var (
		configPath string
		outputJSON bool
	)
	return &cli.Command{
		Name:    "counters",
		Summary: "Show recorded counter metrics",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("counters", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			core, err := openCore(ctx, settings, std)
			if err != nil {
				return err
			}
			defer core.Close()

			counters, err := core.Counters(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(std.stdout, counters)
			}

			names := make([]string, 0, len(counters))
			for name := range counters {
				names = append(names, name)
			}
			slices.Sort(names)
			table := tabwriter.NewWriter(std.stdout, 2, 0, 3, ' ', 0)
			for _, name := range names {
				fmt.Fprintf(table, "%s\t%d\n", name, counters[name])
			}
			return table.Flush()
		},
	}
}

func versionCommand(std streams) *cli.Command {
	var full bool
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&full, "full", false, "include Go version and platform")
			return flagSet
		},
		Run: func(args []string) error {
			if full {
				fmt.Fprintln(std.stdout, version.Full())
				return nil
			}
			fmt.Fprintln(std.stdout, version.Info())
			return nil
		},
	}
}
