package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"churn-bench/internal/chaos"
	"churn-bench/internal/scenario"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Bench BenchConfig `yaml:"bench" json:"bench"`
}

// BenchConfig は実行設定。ゼロ値の項目はベースの設定を変えない
type BenchConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	// Preset はベースにするプリセット名
	Preset string `yaml:"preset" json:"preset"`

	RPCURL    string `yaml:"rpc_url" json:"rpc_url"`
	FaucetURL string `yaml:"faucet_url" json:"faucet_url"`
	ProgramID string `yaml:"program_id" json:"program_id"`
	Simulate  bool   `yaml:"simulate" json:"simulate"`

	Duration      string  `yaml:"duration" json:"duration"`
	Workers       int     `yaml:"workers" json:"workers"`
	BatchSize     int     `yaml:"batch_size" json:"batch_size"`
	TargetTPS     float64 `yaml:"target_tps" json:"target_tps"`
	MaxInflight   int     `yaml:"max_inflight" json:"max_inflight"`
	CreatePct     *int    `yaml:"create_pct" json:"create_pct"`
	SeedObjects   *int    `yaml:"seed_objects" json:"seed_objects"`
	MaxTracked    int     `yaml:"max_tracked" json:"max_tracked"`
	FeeBudget     uint64  `yaml:"fee_budget" json:"fee_budget"`
	LargePayload  bool    `yaml:"large_payload" json:"large_payload"`
	MaxIterations int     `yaml:"max_iterations" json:"max_iterations"`
	StatsInterval string  `yaml:"stats_interval" json:"stats_interval"`

	Memory MemoryConfig `yaml:"memory" json:"memory"`
	Output OutputConfig `yaml:"output" json:"output"`
	Chaos  ChaosConfig  `yaml:"chaos" json:"chaos"`
}

// MemoryConfig はメモリ逼迫の閾値
type MemoryConfig struct {
	Light          float64 `yaml:"light" json:"light"`
	Critical       float64 `yaml:"critical" json:"critical"`
	Emergency      float64 `yaml:"emergency" json:"emergency"`
	SampleInterval string  `yaml:"sample_interval" json:"sample_interval"`
}

// OutputConfig は書き出し先
type OutputConfig struct {
	Result         string `yaml:"result" json:"result"`
	SaveCheckpoint string `yaml:"save_checkpoint" json:"save_checkpoint"`
	LoadCheckpoint string `yaml:"load_checkpoint" json:"load_checkpoint"`
}

// ChaosConfig はインプロセスのノードへの障害注入設定
type ChaosConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Interval    string   `yaml:"interval" json:"interval"`
	AttackTypes []string `yaml:"attack_types" json:"attack_types"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate はファイルの値を検証し、すべての違反をまとめて返す
func (f *FileConfig) Validate() error {
	b := f.Bench
	var errs error

	if b.Preset != "" {
		if _, ok := scenario.GetPreset(b.Preset); !ok {
			errs = multierr.Append(errs, fmt.Errorf("unknown preset: %s", b.Preset))
		}
	}
	for field, v := range map[string]int{
		"workers":        b.Workers,
		"batch_size":     b.BatchSize,
		"max_inflight":   b.MaxInflight,
		"max_tracked":    b.MaxTracked,
		"max_iterations": b.MaxIterations,
	} {
		if v < 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be non-negative", field))
		}
	}
	if b.TargetTPS < 0 {
		errs = multierr.Append(errs, errors.New("target_tps must be non-negative"))
	}
	if b.CreatePct != nil && (*b.CreatePct < 0 || *b.CreatePct > 100) {
		errs = multierr.Append(errs, errors.New("create_pct must be between 0 and 100"))
	}
	if b.SeedObjects != nil && *b.SeedObjects < 0 {
		errs = multierr.Append(errs, errors.New("seed_objects must be non-negative"))
	}
	for field, v := range map[string]float64{
		"memory.light":     b.Memory.Light,
		"memory.critical":  b.Memory.Critical,
		"memory.emergency": b.Memory.Emergency,
	} {
		if v < 0 || v > 1 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be between 0 and 1", field))
		}
	}
	for field, v := range map[string]string{
		"duration":               b.Duration,
		"stats_interval":         b.StatsInterval,
		"memory.sample_interval": b.Memory.SampleInterval,
		"chaos.interval":         b.Chaos.Interval,
	} {
		if _, err := parseDuration(v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	if _, err := parseAttackTypes(b.Chaos.AttackTypes); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// ToScenarioConfig はbaseにファイルの値を重ねたscenario.Configを返す。
// Presetが指定されていればbaseの代わりにそのプリセットを使う
func (f *FileConfig) ToScenarioConfig(base scenario.Config) (scenario.Config, error) {
	b := f.Bench
	config := base

	if b.Preset != "" {
		p, ok := scenario.GetPreset(b.Preset)
		if !ok {
			return base, fmt.Errorf("unknown preset: %s", b.Preset)
		}
		config = p
	}

	if b.Name != "" {
		config.Name = b.Name
	}
	if b.Description != "" {
		config.Description = b.Description
	}
	if b.RPCURL != "" {
		config.RPCURL = b.RPCURL
	}
	if b.FaucetURL != "" {
		config.FaucetURL = b.FaucetURL
	}
	if b.ProgramID != "" {
		config.ProgramID = b.ProgramID
	}
	if b.Simulate {
		config.Simulate = true
	}

	var err error
	if config.Duration, err = durationOr(b.Duration, config.Duration); err != nil {
		return config, fmt.Errorf("invalid duration: %w", err)
	}
	if config.StatsInterval, err = durationOr(b.StatsInterval, config.StatsInterval); err != nil {
		return config, fmt.Errorf("invalid stats interval: %w", err)
	}
	if config.SampleInterval, err = durationOr(b.Memory.SampleInterval, config.SampleInterval); err != nil {
		return config, fmt.Errorf("invalid sample interval: %w", err)
	}

	if b.Workers > 0 {
		config.Workers = b.Workers
	}
	if b.BatchSize > 0 {
		config.BatchSize = b.BatchSize
	}
	if b.TargetTPS > 0 {
		config.TargetTPS = b.TargetTPS
	}
	if b.MaxInflight > 0 {
		config.MaxInflight = b.MaxInflight
	}
	if b.CreatePct != nil {
		config.CreatePct = *b.CreatePct
	}
	if b.SeedObjects != nil {
		config.SeedObjects = *b.SeedObjects
	}
	if b.MaxTracked > 0 {
		config.MaxTracked = b.MaxTracked
	}
	if b.FeeBudget > 0 {
		config.FeeBudget = b.FeeBudget
	}
	if b.LargePayload {
		config.LargePayload = true
	}
	if b.MaxIterations > 0 {
		config.MaxIterations = b.MaxIterations
	}

	if b.Memory.Light > 0 {
		config.Thresholds.Light = b.Memory.Light
	}
	if b.Memory.Critical > 0 {
		config.Thresholds.Critical = b.Memory.Critical
	}
	if b.Memory.Emergency > 0 {
		config.Thresholds.Emergency = b.Memory.Emergency
	}

	if b.Output.Result != "" {
		config.OutputPath = b.Output.Result
	}
	if b.Output.SaveCheckpoint != "" {
		config.SavePath = b.Output.SaveCheckpoint
	}
	if b.Output.LoadCheckpoint != "" {
		config.LoadPath = b.Output.LoadCheckpoint
	}

	if b.Chaos.Enabled {
		config.EnableChaos = true
	}
	if config.ChaosInterval, err = durationOr(b.Chaos.Interval, config.ChaosInterval); err != nil {
		return config, fmt.Errorf("invalid chaos interval: %w", err)
	}
	if len(b.Chaos.AttackTypes) > 0 {
		attacks, err := parseAttackTypes(b.Chaos.AttackTypes)
		if err != nil {
			return config, err
		}
		config.AttackTypes = attacks
	}

	return config, nil
}

// Check は実効設定を検証し、すべての違反をまとめて返す
func Check(c scenario.Config) error {
	var errs error

	if c.Workers < 1 && c.LoadPath == "" {
		errs = multierr.Append(errs, errors.New("workers must be at least 1"))
	}
	if c.BatchSize < 1 {
		errs = multierr.Append(errs, errors.New("batch-size must be at least 1"))
	}
	if c.MaxInflight < 1 {
		errs = multierr.Append(errs, errors.New("max-inflight must be at least 1"))
	}
	if c.CreatePct < 0 || c.CreatePct > 100 {
		errs = multierr.Append(errs, errors.New("create-pct must be between 0 and 100"))
	}
	if c.MaxTracked < 1 {
		errs = multierr.Append(errs, errors.New("max-tracked must be at least 1"))
	}
	if c.SeedObjects < 0 {
		errs = multierr.Append(errs, errors.New("seed-objects must be non-negative"))
	}
	if c.TargetTPS < 0 {
		errs = multierr.Append(errs, errors.New("target-tps must be non-negative"))
	}
	if c.Duration <= 0 {
		errs = multierr.Append(errs, errors.New("duration must be positive"))
	}
	if c.StatsInterval <= 0 {
		errs = multierr.Append(errs, errors.New("stats-interval must be positive"))
	}
	if c.SampleInterval <= 0 {
		errs = multierr.Append(errs, errors.New("sample-interval must be positive"))
	}
	if c.FeeBudget == 0 {
		errs = multierr.Append(errs, errors.New("fee-budget must be positive"))
	}

	t := c.Thresholds
	if !(0 < t.Light && t.Light < t.Critical && t.Critical < t.Emergency && t.Emergency <= 1) {
		errs = multierr.Append(errs, fmt.Errorf(
			"memory thresholds must satisfy 0 < light < critical < emergency <= 1, got %.2f/%.2f/%.2f",
			t.Light, t.Critical, t.Emergency))
	}

	if !c.Simulate && c.ProgramID == "" {
		errs = multierr.Append(errs, errors.New("program-id is required unless simulating"))
	}
	if !c.Simulate && c.RPCURL == "" {
		errs = multierr.Append(errs, errors.New("rpc-url is required unless simulating"))
	}
	return errs
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return parseDuration(s)
}

// parseAttackTypes は文字列の攻撃タイプをパースする
func parseAttackTypes(types []string) ([]chaos.AttackType, error) {
	var attacks []chaos.AttackType

	for _, t := range types {
		a, ok := chaos.ParseAttackType(strings.ToLower(strings.TrimSpace(t)))
		if !ok {
			return nil, fmt.Errorf("unknown attack type: %s", t)
		}
		attacks = append(attacks, a)
	}

	return attacks, nil
}
