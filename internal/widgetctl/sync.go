package widgetctl

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ashureev/surveysync/internal/client"
	"github.com/ashureev/surveysync/internal/widget"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	PersonID  string
	SessionID string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "sync",
		Short:         "Print one state snapshot as JSON",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			api := client.New(opts.APIHost, opts.EnvironmentID)
			state, err := api.Sync(ctx, client.SyncInput{
				PersonID:  opts.PersonID,
				SessionID: opts.SessionID,
				JSVersion: widget.Version,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}

	cmd.Flags().StringVar(&opts.PersonID, "person-id", "", "existing person id")
	cmd.Flags().StringVar(&opts.SessionID, "session-id", "", "existing session id")

	return cmd
}
