package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/engine"
	"github.com/devblac/slot-scout/internal/health"
	"github.com/devblac/slot-scout/internal/logging"
	"github.com/devblac/slot-scout/internal/metrics"
	"github.com/devblac/slot-scout/internal/sink"
	"github.com/devblac/slot-scout/internal/source/algorand"
	"github.com/devblac/slot-scout/internal/source/evm"
	"github.com/devblac/slot-scout/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagFrom    uint64
	flagTo      uint64
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Process one tick and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Record findings but do not send to sinks")
	runCmd.Flags().Uint64Var(&flagFrom, "from", 0, "Start from height/round override")
	runCmd.Flags().Uint64Var(&flagTo, "to", 0, "Stop at height/round (inclusive)")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch configured sources for name/symbol pairs",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		evmClients := map[string]evm.BlockClient{}
		algoClients := map[string]algorand.AlgodClient{}
		evmScanners := map[string]*evm.Scanner{}
		algoScanners := map[string]*algorand.Scanner{}

		for _, src := range cfg.Sources {
			switch src.Type {
			case "evm":
				if flagFrom > 0 {
					src.StartBlock = fmt.Sprintf("%d", flagFrom)
				}
				cli, err := evm.NewRPCClient(src.RPCURL)
				if err != nil {
					return err
				}
				evmClients[src.ID] = cli
				abis, err := evm.LoadABIs(src.ABIDirs)
				if err != nil {
					log.Warn("abi load failed, using built-in ERC20 fragment", "source", src.ID, "error", err)
				}
				sc, err := evm.NewScanner(cli, store, src, cfg.Global.Confirmations["evm"], abis, cfg.Rules)
				if err != nil {
					return err
				}
				evmScanners[src.ID] = sc
			case "algorand":
				if flagFrom > 0 {
					src.StartRound = fmt.Sprintf("%d", flagFrom)
				}
				cli, err := algorand.NewAlgodClient(src.AlgodURL)
				if err != nil {
					return err
				}
				algoClients[src.ID] = cli
				sc, err := algorand.NewScanner(cli, store, src, cfg.Global.Confirmations["algorand"], cfg.Rules)
				if err != nil {
					return err
				}
				algoScanners[src.ID] = sc
			}
		}

		sinks, err := buildSinks(cfg.Sinks)
		if err != nil {
			return err
		}

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		if flagHealth != "" {
			rpcChecker := health.NewRPCChecker(evmClients, algoClients)
			healthSrv := health.Serve(flagHealth, health.Checker{
				DBPing:  store.Ping,
				Sources: rpcChecker.Check,
				Metrics: flagMetrics == flagHealth,
			})
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" && flagMetrics != flagHealth {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
		}

		runner, err := engine.NewRunner(store, cfg, evmScanners, algoScanners, sinks, flagDryRun, flagTo)
		if err != nil {
			return err
		}
		runner.WithObservability(log, mtr)

		for {
			if err := runner.RunOnce(ctx); err != nil {
				mtr.Errors()
				log.Error("run error", "error", err)
				return err
			}
			log.Debug("tick complete", "dry_run", flagDryRun)
			if flagOnce {
				break
			}
			done, err := runner.Done(ctx)
			if err != nil {
				return err
			}
			if done {
				log.Info("reached target height", "to", flagTo)
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(1 * time.Second):
			}
		}
		return nil
	},
}

func buildSinks(cfgSinks []config.Sink) (map[string]sink.Sender, error) {
	sinks := map[string]sink.Sender{}
	for _, s := range cfgSinks {
		var (
			sender sink.Sender
			err    error
		)
		switch s.Type {
		case "stdout":
			sender, err = sink.NewStdoutSender(os.Stdout, s.Template)
		case "slack":
			sender, err = sink.NewSlackSender(s.WebhookURL, s.Template)
		case "teams":
			sender, err = sink.NewTeamsSender(s.WebhookURL, s.Template)
		case "webhook":
			sender, err = sink.NewWebhookSender(s.URL, s.Method, s.Template, nil)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.ID, err)
		}
		sinks[s.ID] = sender
	}
	return sinks, nil
}
