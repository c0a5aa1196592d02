package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/tasksync/internal/commands"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

func reminderCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminder",
		Short: "Inspect, snooze and dismiss reminders",
	}
	cmd.AddCommand(reminderListCmd(opts))
	cmd.AddCommand(reminderSnoozeCmd(opts))
	cmd.AddCommand(reminderDismissCmd(opts))
	cmd.AddCommand(reminderFollowUpCmd(opts))
	return cmd
}

func reminderListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [task-id]",
		Short: "List a task's reminders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			reminders, err := s.Scheduler.Reminders(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range reminders {
				queued := "no"
				if _, err := s.Store.Notifications.GetByReminder(cmd.Context(), r.ID); err == nil {
					queued = "yes"
				} else if !errors.Is(err, storage.ErrNotFound) {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\tfires %s\tfired %s\tqueued %s\n", r.ID, r.Type, formatTime(&r.FireAt), formatTime(r.FiredAt), queued)
			}
			return nil
		},
	}
}

func reminderSnoozeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snooze [reminder-id] [duration]",
		Short: "Push a reminder back, e.g. 10m or 1d",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := commands.ParseDuration(args[1])
			if err != nil {
				return err
			}
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			r, err := s.Queue.Snooze(cmd.Context(), args[0], s.Now().Add(d))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snoozed until %s (%d time(s))\n", formatTime(r.SnoozedUntil), r.SnoozeCount)
			return nil
		},
	}
}

func reminderDismissCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss [reminder-id]",
		Short: "Dismiss a reminder on every device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()
			_, err = s.Queue.Dismiss(cmd.Context(), args[0])
			return err
		},
	}
}

func reminderFollowUpCmd(opts *rootOptions) *cobra.Command {
	var repeat string
	cmd := &cobra.Command{
		Use:   "followup [task-id] [when]",
		Short: "Add a follow-up reminder to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			at, err := parseWhen(s.Now(), args[1])
			if err != nil {
				return err
			}
			if at == nil {
				return errors.New("follow-up time is required")
			}
			r, err := s.Scheduler.AddFollowUp(cmd.Context(), args[0], *at, repeat)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tfires %s\n", r.ID, formatTime(&r.FireAt))
			return nil
		},
	}
	cmd.Flags().StringVar(&repeat, "repeat", "", "repeat the follow-up: daily, weekly, monthly, ...")
	return cmd
}
