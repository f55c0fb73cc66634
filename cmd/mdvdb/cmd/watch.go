package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrel-dev/mdvdb/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the project for changes and keep the index up to date",
		Long: `watch follows filesystem events: a create or modify re-indexes just
that file, a delete removes it from both indexes, and a .gitignore change
triggers a full-tree reconcile. It does not run an ingest before the first
event arrives. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintln(cmd.OutOrStdout(), "watching for changes, press Ctrl-C to stop")
			if err := e.Watch(ctx, watch.DefaultOptions()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	return cmd
}
