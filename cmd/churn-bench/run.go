package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"churn-bench/internal/api"
	"churn-bench/internal/chaos"
	"churn-bench/internal/client"
	"churn-bench/internal/config"
	"churn-bench/internal/events"
	"churn-bench/internal/ledger"
	"churn-bench/internal/logger"
	"churn-bench/internal/node"
	"churn-bench/internal/scenario"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark",
		Long: `Run the benchmark.

Settings are layered: a preset (--preset), then a config file (--config, YAML
or JSON), then flags and CHURN_* environment variables. Only flags that are
given explicitly override the layers below them.

Examples:
  # ten minutes against a local ledger
  churn-bench run --program-id 0x2 --duration 10m

  # in-process ledger, no network needed
  churn-bench run --preset quick --simulate

  # phase 1 saves its objects, phase 2 keeps churning the same ones
  churn-bench run --program-id 0x2 --save-checkpoint objects.json
  churn-bench run --preset update-only --program-id 0x2 --load-checkpoint objects.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildScenarioConfig(v)
			if err != nil {
				return err
			}
			return runBenchmark(cmd.Context(), cfg, v.GetString("monitor-addr"))
		},
	}

	def := scenario.DefaultConfig()
	f := cmd.Flags()
	f.String("preset", "", "base preset (see 'churn-bench presets')")
	f.String("config", "", "config file (YAML or JSON)")
	f.String("rpc-url", def.RPCURL, "ledger endpoint")
	f.String("faucet-url", def.FaucetURL, "faucet endpoint")
	f.String("program-id", "", "workload program id (0x-prefixed hex)")
	f.Bool("simulate", false, "use an in-process ledger instead of --rpc-url")
	f.Duration("duration", def.Duration, "run duration")
	f.Int("workers", def.Workers, "concurrent workers")
	f.Int("batch-size", def.BatchSize, "objects per submission")
	f.Float64("target-tps", def.TargetTPS, "target submissions per second across all workers (0 = unbounded)")
	f.Int("max-inflight", def.MaxInflight, "maximum submissions in flight")
	f.Int("create-pct", def.CreatePct, "percentage of submissions that create objects (0-100)")
	f.Int("seed-objects", def.SeedObjects, "objects created per worker before the run")
	f.Int("max-tracked", def.MaxTracked, "tracked objects cap per worker")
	f.Float64("memory-light", def.Thresholds.Light, "memory usage that starts light throttling")
	f.Float64("memory-critical", def.Thresholds.Critical, "memory usage that starts heavy throttling")
	f.Float64("memory-emergency", def.Thresholds.Emergency, "memory usage that stops creates")
	f.Uint64("fee-budget", def.FeeBudget, "fee budget per submission")
	f.Duration("stats-interval", def.StatsInterval, "progress log interval")
	f.Duration("sample-interval", def.SampleInterval, "memory sampling interval")
	f.Bool("large-payload", def.LargePayload, "create 4KB blob objects instead of counters")
	f.Int("max-iterations", 0, "iterations per worker (0 = until the deadline)")
	f.String("output", "", "write the result summary as JSON to this path")
	f.String("save-checkpoint", "", "save worker keys and tracked objects to this path at the end")
	f.String("load-checkpoint", "", "restore worker keys and tracked objects from this path")
	f.String("monitor-addr", "", "serve the live monitor on this address (e.g. :8080)")
	f.Bool("chaos", false, "inject faults into the in-process ledger (needs --simulate)")
	_ = v.BindPFlags(f)

	return cmd
}

// buildScenarioConfig はプリセット、設定ファイル、フラグと環境変数の順に重ねて設定を作る
func buildScenarioConfig(v *viper.Viper) (scenario.Config, error) {
	cfg := scenario.DefaultConfig()

	if name := v.GetString("preset"); name != "" {
		preset, ok := scenario.GetPreset(name)
		if !ok {
			return cfg, fmt.Errorf("unknown preset: %s (available: %v)", name, scenario.ListPresets())
		}
		cfg = preset
	}

	if path := v.GetString("config"); path != "" {
		fc, err := config.LoadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := fc.Validate(); err != nil {
			return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
		}
		if cfg, err = fc.ToScenarioConfig(cfg); err != nil {
			return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	set := func(key string, apply func()) {
		if v.IsSet(key) {
			apply()
		}
	}
	set("rpc-url", func() { cfg.RPCURL = v.GetString("rpc-url") })
	set("faucet-url", func() { cfg.FaucetURL = v.GetString("faucet-url") })
	set("program-id", func() { cfg.ProgramID = v.GetString("program-id") })
	set("simulate", func() { cfg.Simulate = v.GetBool("simulate") })
	set("duration", func() { cfg.Duration = v.GetDuration("duration") })
	set("workers", func() { cfg.Workers = v.GetInt("workers") })
	set("batch-size", func() { cfg.BatchSize = v.GetInt("batch-size") })
	set("target-tps", func() { cfg.TargetTPS = v.GetFloat64("target-tps") })
	set("max-inflight", func() { cfg.MaxInflight = v.GetInt("max-inflight") })
	set("create-pct", func() { cfg.CreatePct = v.GetInt("create-pct") })
	set("seed-objects", func() { cfg.SeedObjects = v.GetInt("seed-objects") })
	set("max-tracked", func() { cfg.MaxTracked = v.GetInt("max-tracked") })
	set("memory-light", func() { cfg.Thresholds.Light = v.GetFloat64("memory-light") })
	set("memory-critical", func() { cfg.Thresholds.Critical = v.GetFloat64("memory-critical") })
	set("memory-emergency", func() { cfg.Thresholds.Emergency = v.GetFloat64("memory-emergency") })
	set("fee-budget", func() { cfg.FeeBudget = v.GetUint64("fee-budget") })
	set("stats-interval", func() { cfg.StatsInterval = v.GetDuration("stats-interval") })
	set("sample-interval", func() { cfg.SampleInterval = v.GetDuration("sample-interval") })
	set("large-payload", func() { cfg.LargePayload = v.GetBool("large-payload") })
	set("max-iterations", func() { cfg.MaxIterations = v.GetInt("max-iterations") })
	set("output", func() { cfg.OutputPath = v.GetString("output") })
	set("save-checkpoint", func() { cfg.SavePath = v.GetString("save-checkpoint") })
	set("load-checkpoint", func() { cfg.LoadPath = v.GetString("load-checkpoint") })
	set("chaos", func() { cfg.EnableChaos = v.GetBool("chaos") })

	if err := config.Check(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runBenchmark は1回実行してレポートを表示する。SIGINT/SIGTERMで新しい送信を止める
func runBenchmark(ctx context.Context, cfg scenario.Config, monitorAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, cleanup, err := newBackend(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// インプロセスのノードは払い出しが即座に見える
	if cfg.Simulate {
		cfg.Funding.Settle = 0
	}
	engine := scenario.NewEngine(cfg, backend)

	if monitorAddr != "" {
		bus := events.NewBus()
		defer bus.Close()
		engine.SetEventBus(bus)

		srvCtx, cancelSrv := context.WithCancel(context.Background())
		defer cancelSrv()
		srv := api.NewServer(monitorAddr, engine, bus)
		go func() {
			if err := srv.Start(srvCtx); err != nil {
				logger.Error("", "Monitor server error: %v", err)
			}
		}()
	}

	result, err := engine.Run(ctx)
	if result != nil {
		fmt.Println(result.Report())
	}
	return err
}

func newBackend(cfg scenario.Config) (scenario.Backend, func(), error) {
	if cfg.Simulate {
		n := node.New("sim-0")
		if err := n.Start(context.Background()); err != nil {
			return scenario.Backend{}, nil, err
		}
		logger.Info("", "Using in-process ledger %s", n.ID())
		return scenario.Backend{
			Ledger:       n,
			Dispenser:    n,
			ChaosTargets: []chaos.Target{n},
		}, func() { _ = n.Stop() }, nil
	}

	hc := client.NewHTTPClient(cfg.RPCURL, client.DefaultTimeout)
	if id, err := ledger.ParseProgramID(cfg.ProgramID); err == nil {
		hc.SetProgram(id)
	}
	logger.Info("", "Using ledger at %s (faucet %s)", cfg.RPCURL, cfg.FaucetURL)
	return scenario.Backend{
		Ledger:    hc,
		Dispenser: client.NewHTTPFaucet(cfg.FaucetURL, client.DefaultTimeout),
	}, func() {}, nil
}
