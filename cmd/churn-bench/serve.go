package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"churn-bench/internal/chaos"
	"churn-bench/internal/ledger"
	"churn-bench/internal/logger"
	"churn-bench/internal/node"
)

type serveOptions struct {
	addr         string
	nodeID       string
	faucetAmount uint64
	baseFee      uint64
	objectFee    uint64
	chaos        bool
	interval     time.Duration
	attacks      []string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory ledger over HTTP",
		Long: `Serve an in-memory ledger over HTTP.

The faucet is served on the same address, so point both --rpc-url and
--faucet-url of 'churn-bench run' at it:

  churn-bench serve --addr :9000
  churn-bench run --program-id 0x2 --rpc-url http://127.0.0.1:9000 --faucet-url http://127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, nil)
		},
	}

	def := node.DefaultConfig()
	chaosDef := chaos.DefaultConfig()
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", ":9000", "listen address")
	f.StringVar(&opts.nodeID, "id", "node-0", "node id")
	f.Uint64Var(&opts.faucetAmount, "faucet-amount", def.FaucetAmount, "balance of each faucet coin")
	f.Uint64Var(&opts.baseFee, "base-fee", def.BaseFee, "fee charged per submission")
	f.Uint64Var(&opts.objectFee, "object-fee", def.ObjectFee, "fee charged per object written")
	f.BoolVar(&opts.chaos, "chaos", false, "inject suspends, delays and failures")
	f.DurationVar(&opts.interval, "chaos-interval", chaosDef.Interval, "time between fault injections")
	f.StringSliceVar(&opts.attacks, "attack-types", []string{"suspend", "delay", "fail"}, "fault kinds to inject")
	return cmd
}

// runServe はノードを起動し、ctxが終わるかシグナルを受けるまで待ち受ける。
// readyにはリッスンしたアドレスを1回送る
func runServe(ctx context.Context, opts serveOptions, ready chan<- string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ncfg := node.DefaultConfig()
	ncfg.FaucetAmount = opts.faucetAmount
	ncfg.BaseFee = opts.baseFee
	ncfg.ObjectFee = opts.objectFee

	n := node.NewWithConfig(opts.nodeID, ncfg)
	if err := n.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = n.Stop() }()

	if opts.chaos {
		ccfg := chaos.DefaultConfig()
		ccfg.Interval = opts.interval
		ccfg.AttackTypes = nil
		for _, s := range opts.attacks {
			a, ok := chaos.ParseAttackType(s)
			if !ok {
				return fmt.Errorf("unknown attack type: %s", s)
			}
			ccfg.AttackTypes = append(ccfg.AttackTypes, a)
		}
		monkey := chaos.New([]chaos.Target{n}, ccfg)
		monkey.Start(ctx)
		defer monkey.Stop()
	}

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("", "Ledger node %s listening on http://%s (faucet at %s)", n.ID(), ln.Addr(), ledger.PathFaucet)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
