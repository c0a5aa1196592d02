package main

import (
	"context"
	"errors"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/config"
	"github.com/sandeepkv93/tasksync/internal/notify"
	"github.com/sandeepkv93/tasksync/internal/update"
)

func runCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run background sync and reminder delivery until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), func(cfg *config.Config) {
				if metricsAddr != "" {
					cfg.Metrics.Addr = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			defer s.close()
			return s.Run(cmd.Context(), s.Dispatcher(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func watchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Full-screen view of sync state and upcoming reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), func(cfg *config.Config) {
				cfg.Log.Quiet = true
				if cfg.Log.File == "" {
					cfg.Log.File = filepath.Join(cfg.DataDir, "taskd.log")
				}
			})
			if err != nil {
				return err
			}
			defer s.close()

			notifier := update.NewNotifier(0, s.Now)
			targets := notify.Fanout{notifier}
			if s.cfg.Notify.Desktop {
				targets = append(targets, notify.NewDesktop())
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			runErr := make(chan error, 1)
			go func() { runErr <- s.Run(ctx, targets) }()

			program := tea.NewProgram(update.NewModel(update.AppBackend{App: s.App}, notifier.C()), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = program.Run()
			cancel()
			if bgErr := <-runErr; bgErr != nil {
				s.logger.Error("background loop stopped", zap.Error(bgErr))
			}
			notifier.Close()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
}
