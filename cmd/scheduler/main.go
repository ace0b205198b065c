package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/example/lab-scheduler/internal/config"
	"github.com/example/lab-scheduler/internal/logging"
)

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

// newRootCommand builds the CLI. Structured logs go to logOut; command output
// goes to the command's own writer.
func newRootCommand(logOut io.Writer) *cobra.Command {
	level := new(slog.LevelVar)
	logger := logging.New(logOut, level).With("app", "lab-scheduler")

	root := &cobra.Command{
		Use:           "scheduler",
		Short:         "Admission scheduler for shared laboratory hardware",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(logger, level),
		newMigrateCommand(logger),
		newLabsCommand(),
	)
	return root
}

// loadConfig reads the environment and applies any flags the user set.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.FromEnvironment()
	if err != nil {
		return config.Config{}, err
	}
	applyOverrides(flags, &cfg)
	return cfg, nil
}

func applyOverrides(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("port") {
		if port, err := flags.GetInt("port"); err == nil {
			cfg.HTTPPort = port
		}
	}
	if flags.Changed("catalog") {
		if path, err := flags.GetString("catalog"); err == nil {
			cfg.CatalogPath = path
		}
	}
	if flags.Changed("dsn") {
		if dsn, err := flags.GetString("dsn"); err == nil {
			cfg.SQLiteDSN = dsn
		}
	}
	if flags.Changed("storage") {
		if storage, err := flags.GetString("storage"); err == nil {
			cfg.Storage = strings.ToLower(strings.TrimSpace(storage))
		}
	}
}
