package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/tasksync/internal/commands"
	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/reminder"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

func taskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and change tasks",
	}
	cmd.AddCommand(taskAddCmd(opts))
	cmd.AddCommand(taskListCmd(opts))
	cmd.AddCommand(taskCompleteCmd(opts))
	cmd.AddCommand(taskRescheduleCmd(opts))
	cmd.AddCommand(taskDeleteCmd(opts))
	return cmd
}

func taskAddCmd(opts *rootOptions) *cobra.Command {
	var (
		due        string
		notes      string
		commitment string
		repeat     string
		until      string
		remind     []int
	)
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a task and schedule its reminders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			in := reminder.NewTask{
				Title:      strings.Join(args, " "),
				Notes:      notes,
				Commitment: model.CommitmentType(commitment),
			}
			if cmd.Flags().Changed("remind") {
				in.Advances = remind
			}
			if in.DueDate, err = parseWhen(s.Now(), due); err != nil {
				return err
			}
			if in.RecurrenceEnd, err = parseWhen(s.Now(), until); err != nil {
				return err
			}
			if repeat != "" {
				rule, err := model.ParseRecurrence(repeat)
				if err != nil {
					return err
				}
				in.Recurrence = &rule
			}

			task, err := s.Scheduler.CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tdue %s\n", task.ID, task.Title, formatTime(task.DueDate))
			return nil
		},
	}
	cmd.Flags().StringVar(&due, "due", "", "due time: RFC 3339 or an offset such as 2h or 1d")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&commitment, "type", "", "commitment type: task, call, email, video, meeting, trip")
	cmd.Flags().StringVar(&repeat, "repeat", "", "recurrence: daily, weekly, weekly:mon,wed, monthly, yearly, weekdays")
	cmd.Flags().StringVar(&until, "until", "", "last date a recurring task repeats")
	cmd.Flags().IntSliceVar(&remind, "remind", nil, "reminder offsets in minutes before due (default depends on --type)")
	return cmd
}

func taskListCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			tasks, err := s.Store.Tasks.List(cmd.Context(), storage.ListFilter{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range tasks {
				if t.IsCompleted() && !all {
					continue
				}
				state := "open"
				if t.IsCompleted() {
					state = "done"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\tdue %s\n", t.ID, state, t.CommitmentOrDefault(), t.Title, formatTime(t.DueDate))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include completed tasks")
	return cmd
}

func taskCompleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete [task-id]",
		Short: "Complete a task; recurring tasks roll to their next occurrence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			task, err := s.Scheduler.CompleteTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if task.IsCompleted() {
				fmt.Fprintf(cmd.OutOrStdout(), "completed %s\n", task.Title)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s next due %s\n", task.Title, formatTime(task.DueDate))
			}
			return nil
		},
	}
}

func taskRescheduleCmd(opts *rootOptions) *cobra.Command {
	var remind []int
	cmd := &cobra.Command{
		Use:   "reschedule [task-id] [when|none]",
		Short: "Move a task's due date and its reminders",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			var due *time.Time
			if !strings.EqualFold(args[1], "none") {
				if due, err = parseWhen(s.Now(), args[1]); err != nil {
					return err
				}
			}
			var advances []int
			if cmd.Flags().Changed("remind") {
				advances = remind
			}
			task, err := s.Scheduler.Reschedule(cmd.Context(), args[0], due, advances)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s due %s\n", task.Title, formatTime(task.DueDate))
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&remind, "remind", nil, "replace reminder offsets (minutes before due)")
	return cmd
}

func taskDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [task-id]",
		Short: "Delete a task and its reminders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()
			return s.Scheduler.DeleteTask(cmd.Context(), args[0])
		},
	}
}

// parseWhen accepts RFC 3339 or an offset from now; empty means unset.
func parseWhen(now time.Time, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		at = at.UTC()
		return &at, nil
	}
	d, err := commands.ParseDuration(raw)
	if err != nil {
		return nil, err
	}
	at := now.Add(d).UTC()
	return &at, nil
}
