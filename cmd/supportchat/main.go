package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ============================================================================
// Root command
// ============================================================================

var (
	flagDebug       bool
	flagAPIURL      string
	flagSocketURL   string
	flagMetricsAddr string

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "supportchat",
	Short: "Support chat admin CLI",
	Long:  "Command-line console for the support chat inbox.\nList threads, read conversations, reply to users and watch them live.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")

		l, err := newLogger(flagDebug)
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		logger = l

		if flagMetricsAddr != "" {
			go serveMetrics(flagMetricsAddr)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage: true,
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics_listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics_server_failed", zap.String("addr", addr), zap.Error(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Override the REST API base URL")
	rootCmd.PersistentFlags().StringVar(&flagSocketURL, "socket-url", "", "Override the realtime endpoint")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
