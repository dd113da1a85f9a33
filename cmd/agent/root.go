package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/config"
	"github.com/stats-agent/pkg/logger"
	"github.com/stats-agent/pkg/signal"
	"github.com/stats-agent/pkg/util"
)

const (
	projectName     = "stats-agent"
	bannerColor     = "blue"
	shutdownTimeout = 10 * time.Second
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           projectName,
	Short:         "Process metrics, proxy status producers and caught errors over HTTP",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, v, err := config.LoadConfigWithCli(cmd)
		if err != nil {
			return fmt.Errorf("load configuration: %w (check the file given with -c)", err)
		}
		return run(cmd.Context(), cfg, v)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		printStartupError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "-> Configuration file (YAML)")
	initServerFlags(rootCmd)
	initMonitorFlags(rootCmd)
	initErrorsFlags(rootCmd)
	initLogFlags(rootCmd)
}

func run(ctx context.Context, cfg *config.Config, v *viper.Viper) error {
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	util.PrintBanner(os.Stdout, projectName, bannerColor)
	logger.Info("log initialization successful",
		zap.String("path", cfg.Log.Path),
		zap.String("level", cfg.Log.Level),
		zap.String("format", cfg.Log.Format))
	logger.Debug("configuration loaded", zap.String("file", v.ConfigFileUsed()))

	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return fmt.Errorf("start agent: %w", err)
	}

	config.Watch(v, a.Reload, a.ReloadFailed)

	return signal.WaitForShutdown(ctx, logger.Named("signal"), shutdownTimeout, a.Shutdown)
}
