// Package widgetctl implements the widgetctl command line tool, which
// drives a widget runtime against a running server.
package widgetctl

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	APIHost       string
	EnvironmentID string
	Debug         bool
	Timeout       time.Duration
}

// NewRootCommand creates the widgetctl root command. Flag defaults come
// from WIDGET_API_HOST and WIDGET_ENVIRONMENT_ID.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "widgetctl",
		Short: "Drive the survey widget runtime from the command line",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.APIHost == "" {
				return fmt.Errorf("--api-host is required")
			}
			if opts.EnvironmentID == "" {
				return fmt.Errorf("--environment is required")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.APIHost, "api-host", os.Getenv("WIDGET_API_HOST"), "base URL of the API server")
	cmd.PersistentFlags().StringVar(&opts.EnvironmentID, "environment", os.Getenv("WIDGET_ENVIRONMENT_ID"), "environment id")
	cmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", false, "debug logging")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall timeout")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}

func (o *RootOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
