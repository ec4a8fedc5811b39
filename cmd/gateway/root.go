package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/internal/gateway"
	"github.com/nao1215/edgegate/pkg/metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// buildVersion はビルド時に -ldflags で埋め込むバージョン。
var buildVersion = "dev"

// newRootCmd はルートコマンドを生成する。
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "edgegate",
		Short:         "Edge authentication and vendor proxy gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

// newVersionCmd はバージョンを表示するコマンドを生成する。
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s\n", buildVersion)
		},
	}
}

// newServeCmd はHTTPサーバーを起動するコマンドを生成する。
func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := configureLogging(cfg.Log, os.Stderr); err != nil {
				return err
			}

			server, err := gateway.NewServer(cfg, metrics.New(nil))
			if err != nil {
				return fmt.Errorf("ゲートウェイの初期化に失敗: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("EDGEGATE_CONFIG"), "path to the YAML config file")
	return cmd
}

// configureLogging はログのレベルと形式を設定する。
func configureLogging(cfg config.LogConfig, out io.Writer) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("ログレベル %q の解析に失敗: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(out)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
