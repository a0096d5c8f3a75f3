package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configPath string

	root := &cobra.Command{
		Use:           "crashguard",
		Short:         "Hypoglycemia risk alerting and emergency escalation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config/config.yaml", "path to the YAML config file")
	root.PersistentFlags().String("backend", "", "dashboard backend base URL")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("backend.base_url", root.PersistentFlags().Lookup("backend"))
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return nil, nil, err
		}
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create logger: %w", err)
		}
		return cfg, logger, nil
	}

	root.AddCommand(newServeCmd(v, load), newCheckCmd(load))
	return root
}

type loadFunc func() (*config.Config, *zap.Logger, error)

// newLogger builds the process logger from the log section
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

// bindServeFlags exposes the most common serve overrides as flags
func bindServeFlags(v *viper.Viper, cmd *cobra.Command) {
	cmd.Flags().String("addr", "", "HTTP listen address")
	cmd.Flags().Duration("interval", 0, "risk poll interval")
	cmd.Flags().Bool("nats", false, "publish events to NATS JetStream")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("poller.interval", cmd.Flags().Lookup("interval"))
	_ = v.BindPFlag("nats.enabled", cmd.Flags().Lookup("nats"))
}
