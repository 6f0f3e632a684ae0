package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sessionhost/sessiond/internal/config"
	"github.com/sessionhost/sessiond/internal/daemon"
	"github.com/sessionhost/sessiond/internal/logger"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the sessiond HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, v)
		},
	}

	config.BindFlags(cmd.Flags())
	v.BindPFlags(cmd.Flags())
	v.SetEnvPrefix("SESSIOND")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfgFile := cmd.Flags().String("config", "", "optional YAML config file")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if *cfgFile != "" {
			v.SetConfigFile(*cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config file: %w", err)
			}
		}
		return nil
	}

	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	if err := logger.InitWithRotation(cfg.LogLevel, cfg.LogFile, logger.RotationConfig{
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, version, logger.Log)
	return d.Run(ctx)
}
