package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/strombase/strom"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/propagate"
	"github.com/strombase/strom/internal/sampling"
	"github.com/strombase/strom/internal/telemetry"
	"go.uber.org/zap"
)

var (
	configPath string
	dataDir    string
	listen     string
	peers      []string
	metrics    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a gossip node",
	Long: `Start a gossip node.

Examples:
  # Start a single seed node
  stromd start --listen=10.0.0.1:9190 --dir=/var/lib/strom

  # Join an existing cluster
  stromd start --listen=10.0.0.2:9190 --dir=/var/lib/strom --peers=10.0.0.1:9190`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	startCmd.Flags().StringVarP(&dataDir, "dir", "d", "", "Data directory for the change log")
	startCmd.Flags().StringVarP(&listen, "listen", "l", "", "Gossip address to bind, host:port")
	startCmd.Flags().StringSliceVarP(&peers, "peers", "p", nil, "Seed peer addresses (comma-separated)")
	startCmd.Flags().StringVarP(&metrics, "metrics", "m", "", "Prometheus endpoint address; empty disables it")
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Dir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if len(peers) > 0 {
		cfg.Peers = peers
	}
	if metrics != "" {
		cfg.Metrics = metrics
	}
	if cfg.Listen == "" {
		return errors.New("a listen address is required")
	}
	if cfg.Dir == "" {
		return errors.New("a data directory is required")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	seed := make([]address.Address, len(cfg.Peers))
	for i, p := range cfg.Peers {
		seed[i] = address.Address(p)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := strom.Open(ctx, cfg.Dir, address.Address(cfg.Listen), seed,
		strom.WithLogger(logger),
		strom.WithSampling(sampling.Config{
			Period:          cfg.Sampling.Period,
			PeriodDeviation: cfg.Sampling.PeriodDeviation,
			ViewSize:        cfg.Sampling.ViewSize,
			HealingFactor:   cfg.Sampling.HealingFactor,
			SwappingFactor:  cfg.Sampling.SwappingFactor,
		}),
		strom.WithPropagation(propagate.Config{
			Period:          cfg.Propagation.Period,
			PeriodDeviation: cfg.Propagation.PeriodDeviation,
			ActionsSize:     cfg.Propagation.ActionsSize,
			MaxBroadcast:    cfg.Propagation.MaxBroadcast,
		}),
	)
	if err != nil {
		return err
	}
	logger.Info("gossip node started",
		zap.String("listen", cfg.Listen),
		zap.Int("seedPeers", len(seed)),
	)

	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		srv := &http.Server{Addr: cfg.Metrics, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("addr", cfg.Metrics))
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return node.Close()
}
