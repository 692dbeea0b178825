package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"churn-bench/internal/chaos"
	"churn-bench/internal/scenario"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileYAML(t *testing.T) {
	path := writeFile(t, "bench.yaml", `
bench:
  name: phase-2
  preset: blob
  program_id: "0x2"
  duration: 10m
  workers: 16
  create_pct: 0
  seed_objects: 0
  memory:
    light: 0.70
    critical: 0.80
    emergency: 0.90
    sample_interval: 250ms
  output:
    result: result.json
    load_checkpoint: phase1.json
  chaos:
    enabled: true
    interval: 2s
    attack_types:
      - Suspend
      - fail
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	sc, err := cfg.ToScenarioConfig(scenario.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, "phase-2", sc.Name)
	assert.True(t, sc.LargePayload, "preset blob applied")
	assert.Equal(t, 20, sc.BatchSize, "preset batch size kept")
	assert.Equal(t, "0x2", sc.ProgramID)
	assert.Equal(t, 10*time.Minute, sc.Duration)
	assert.Equal(t, 16, sc.Workers)
	assert.Zero(t, sc.CreatePct)
	assert.Zero(t, sc.SeedObjects)
	assert.Equal(t, 0.70, sc.Thresholds.Light)
	assert.Equal(t, 0.90, sc.Thresholds.Emergency)
	assert.Equal(t, 250*time.Millisecond, sc.SampleInterval)
	assert.Equal(t, "result.json", sc.OutputPath)
	assert.Equal(t, "phase1.json", sc.LoadPath)
	assert.True(t, sc.EnableChaos)
	assert.Equal(t, 2*time.Second, sc.ChaosInterval)
	assert.Equal(t, []chaos.AttackType{chaos.AttackSuspend, chaos.AttackFail}, sc.AttackTypes)
}

func TestLoadFileJSON(t *testing.T) {
	path := writeFile(t, "bench.json", `{
  "bench": {
    "simulate": true,
    "workers": 4,
    "batch_size": 10,
    "target_tps": 50,
    "stats_interval": "5s"
  }
}`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	sc, err := cfg.ToScenarioConfig(scenario.DefaultConfig())
	require.NoError(t, err)
	assert.True(t, sc.Simulate)
	assert.Equal(t, 4, sc.Workers)
	assert.Equal(t, 10, sc.BatchSize)
	assert.Equal(t, 50.0, sc.TargetTPS)
	assert.Equal(t, 5*time.Second, sc.StatsInterval)
	// 未指定の項目はベースのまま
	assert.Equal(t, 5, sc.CreatePct)
	assert.Equal(t, 500, sc.SeedObjects)
	assert.NoError(t, Check(sc))
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "bench.toml", "x = 1"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = LoadFile(writeFile(t, "bench.yaml", "bench: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse YAML")

	_, err = LoadFile(writeFile(t, "bench.json", "{"))
	assert.ErrorContains(t, err, "failed to parse JSON")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	pct := 150
	seed := -1
	cfg := &FileConfig{Bench: BenchConfig{
		Preset:      "nope",
		Workers:     -1,
		BatchSize:   -2,
		CreatePct:   &pct,
		SeedObjects: &seed,
		Duration:    "soon",
		Memory:      MemoryConfig{Emergency: 1.5},
		Chaos:       ChaosConfig{AttackTypes: []string{"kill"}},
	}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 8)
	assert.ErrorContains(t, err, "unknown preset: nope")
	assert.ErrorContains(t, err, "create_pct must be between 0 and 100")
	assert.ErrorContains(t, err, "unknown attack type: kill")
}

func TestToScenarioConfigErrors(t *testing.T) {
	cfg := &FileConfig{Bench: BenchConfig{Duration: "invalid"}}
	_, err := cfg.ToScenarioConfig(scenario.DefaultConfig())
	assert.ErrorContains(t, err, "invalid duration")

	cfg = &FileConfig{Bench: BenchConfig{Preset: "nope"}}
	_, err = cfg.ToScenarioConfig(scenario.DefaultConfig())
	assert.ErrorContains(t, err, "unknown preset")

	cfg = &FileConfig{Bench: BenchConfig{Chaos: ChaosConfig{AttackTypes: []string{"kill"}}}}
	_, err = cfg.ToScenarioConfig(scenario.DefaultConfig())
	assert.ErrorContains(t, err, "unknown attack type")
}

func TestCheck(t *testing.T) {
	valid := scenario.DefaultConfig()
	valid.ProgramID = "0x2"
	assert.NoError(t, Check(valid))

	sim := scenario.DefaultConfig()
	sim.Simulate = true
	assert.NoError(t, Check(sim), "program id not needed when simulating")

	tests := []struct {
		name   string
		mutate func(*scenario.Config)
		want   string
	}{
		{"workers", func(c *scenario.Config) { c.Workers = 0 }, "workers must be at least 1"},
		{"batch", func(c *scenario.Config) { c.BatchSize = 0 }, "batch-size must be at least 1"},
		{"inflight", func(c *scenario.Config) { c.MaxInflight = 0 }, "max-inflight must be at least 1"},
		{"create pct", func(c *scenario.Config) { c.CreatePct = 101 }, "create-pct must be between 0 and 100"},
		{"tracked", func(c *scenario.Config) { c.MaxTracked = 0 }, "max-tracked must be at least 1"},
		{"duration", func(c *scenario.Config) { c.Duration = 0 }, "duration must be positive"},
		{"stats", func(c *scenario.Config) { c.StatsInterval = 0 }, "stats-interval must be positive"},
		{"thresholds order", func(c *scenario.Config) { c.Thresholds.Critical = 0.95 }, "memory thresholds"},
		{"thresholds range", func(c *scenario.Config) { c.Thresholds.Emergency = 1.2 }, "memory thresholds"},
		{"program id", func(c *scenario.Config) { c.ProgramID = "" }, "program-id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorContains(t, Check(c), tt.want)
		})
	}

	// 復元時はワーカー数をチェックポイントから取る
	load := valid
	load.Workers = 0
	load.LoadPath = "phase1.json"
	assert.NoError(t, Check(load))

	// 保存先と読み込み元が同じでもよい
	same := valid
	same.LoadPath = "objects.json"
	same.SavePath = "objects.json"
	assert.NoError(t, Check(same))

	broken := valid
	broken.Workers = 0
	broken.BatchSize = 0
	broken.MaxInflight = 0
	assert.Len(t, multierr.Errors(Check(broken)), 3)
}
