package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/app"
	"github.com/sandeepkv93/tasksync/internal/config"
	"github.com/sandeepkv93/tasksync/internal/logging"
)

var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "taskd",
		Short:         "taskd - local-first tasks with cross-device sync and reminders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: user config dir/taskd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(syncCmd(opts))
	rootCmd.AddCommand(pushCmd(opts))
	rootCmd.AddCommand(pullCmd(opts))
	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(runCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))
	rootCmd.AddCommand(deviceCmd(opts))
	rootCmd.AddCommand(taskCmd(opts))
	rootCmd.AddCommand(reminderCmd(opts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Log.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// session is an opened App plus its logger.
type session struct {
	*app.App
	cfg    *config.Config
	logger *zap.Logger
}

func (s *session) close() {
	if err := s.App.Close(); err != nil {
		s.logger.Warn("close failed", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func (o *rootOptions) open(ctx context.Context, tweak func(*config.Config)) (*session, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	a, err := app.New(ctx, *cfg, app.Overrides{Logger: logger})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{App: a, cfg: cfg, logger: logger}, nil
}
