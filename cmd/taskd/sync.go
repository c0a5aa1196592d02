package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	tsync "github.com/sandeepkv93/tasksync/internal/sync"
	"github.com/sandeepkv93/tasksync/internal/update"
	"github.com/sandeepkv93/tasksync/internal/views"
)

func syncCmd(opts *rootOptions) *cobra.Command {
	return syncingCmd(opts, "sync", "Push local changes then pull remote ones", func(s *session) func(context.Context) (tsync.Result, error) {
		return s.Sync.SyncAll
	})
}

func pushCmd(opts *rootOptions) *cobra.Command {
	return syncingCmd(opts, "push", "Re-upload every local document", func(s *session) func(context.Context) (tsync.Result, error) {
		return s.Sync.ForcePush
	})
}

func pullCmd(opts *rootOptions) *cobra.Command {
	return syncingCmd(opts, "pull", "Re-download every remote document", func(s *session) func(context.Context) (tsync.Result, error) {
		return s.Sync.ForcePull
	})
}

func syncingCmd(opts *rootOptions, use, short string, pick func(*session) func(context.Context) (tsync.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := pick(s)(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), views.RenderSyncResult(update.SyncResultData(res)))
			return nil
		},
	}
}

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and the delivery queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			snap, err := update.AppBackend{App: s.App}.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, views.RenderStatusPanel(snap.Status))
			fmt.Fprintln(out)
			fmt.Fprintln(out, views.RenderQueuePanel(views.QueuePanelData{Now: snap.Now, Items: snap.Queue}))
			return nil
		},
	}
}

func deviceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Print this installation's device id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()
			fmt.Fprintln(cmd.OutOrStdout(), s.DeviceID)
			return nil
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
