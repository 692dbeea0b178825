// Package main is the entry point for churn-bench.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"churn-bench/internal/logger"
	"churn-bench/internal/scenario"
)

var version = "dev"

const envPrefix = "CHURN"

// newViper はCHURN_プレフィックスの環境変数を読むviperを作る
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd() *cobra.Command {
	v := newViper()
	run := newRunCmd(v)

	root := &cobra.Command{
		Use:   "churn-bench",
		Short: "Sustained create/update load generator for object ledgers",
		Long: `churn-bench drives a ledger with a steady mix of object creations and
batched updates from many independent workers, throttling itself when host
memory runs short or the ledger starts rejecting submissions.

Running without a subcommand is the same as "churn-bench run".

Every run flag can also be set from the environment with the CHURN_ prefix,
for example CHURN_PROGRAM_ID=0x2 or CHURN_WORKERS=16.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logger.ParseLevel(v.GetString("log-level"))
			if err != nil {
				return err
			}
			logger.Default().SetLevel(level)
			return nil
		},
		RunE: run.RunE,
	}
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))

	root.Flags().AddFlagSet(run.Flags())
	root.AddCommand(run, newServeCmd(), newPresetsCmd(), newVersionCmd())
	return root
}

// Execute はコマンドを実行し、失敗したら終了コード1で抜ける
func Execute() {
	defer func() { _ = logger.Default().Sync() }()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the available presets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printPresets(cmd)
		},
	}
}

// printPresets は利用可能なプリセットを表示する
func printPresets(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Available presets:")
	fmt.Fprintln(out)
	for _, name := range scenario.ListPresets() {
		c, _ := scenario.GetPreset(name)
		fmt.Fprintf(out, "  %-12s %s\n", name, c.Description)
		fmt.Fprintf(out, "  %-12s duration=%v workers=%d batch=%d create=%d%%", "", c.Duration, c.Workers, c.BatchSize, c.CreatePct)
		if c.TargetTPS > 0 {
			fmt.Fprintf(out, " target-tps=%.0f", c.TargetTPS)
		}
		if c.LargePayload {
			fmt.Fprint(out, " large-payload")
		}
		if c.Simulate {
			fmt.Fprint(out, " simulate")
		}
		fmt.Fprintln(out)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "churn-bench version %s\n", version)
		},
	}
}
