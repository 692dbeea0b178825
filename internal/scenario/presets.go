package scenario

import (
	"sort"
	"time"

	"churn-bench/internal/chaos"
)

// QuickScenario は短時間の動作確認用
func QuickScenario() Config {
	c := DefaultConfig()
	c.Name = "quick"
	c.Description = "Short smoke run with few workers"
	c.Duration = 30 * time.Second
	c.Workers = 2
	c.SeedObjects = 100
	c.StatsInterval = 5 * time.Second
	return c
}

// MicroScenario は小さいカウンタオブジェクトを大量に更新する
func MicroScenario() Config {
	c := DefaultConfig()
	c.Name = "micro"
	c.Description = "Counter objects, large batches, mostly updates"
	c.BatchSize = 100
	c.CreatePct = 5
	return c
}

// BlobScenario は4KBのBlobで1送信あたりの書き込み量を増やす
func BlobScenario() Config {
	c := DefaultConfig()
	c.Name = "blob"
	c.Description = "4KB blob objects for more bytes per submission"
	c.LargePayload = true
	c.BatchSize = 20
	c.SeedObjects = 200
	c.MaxTracked = 2000
	return c
}

// SoakScenario は長時間の持続負荷
// 目標TPSで抑えてメモリの逼迫を避ける
func SoakScenario() Config {
	c := DefaultConfig()
	c.Name = "soak"
	c.Description = "Hour-long paced run for steady-state behavior"
	c.Duration = time.Hour
	c.TargetTPS = 200
	c.StatsInterval = time.Minute
	return c
}

// UpdateOnlyScenario は作成せず既存オブジェクトの更新だけを行う。
// 前のフェーズのチェックポイントと組み合わせて使う
func UpdateOnlyScenario() Config {
	c := DefaultConfig()
	c.Name = "update-only"
	c.Description = "No creates, churn the tracked set only"
	c.CreatePct = 0
	return c
}

// FlakyScenario はインプロセスのノードに障害を注入しながら回す
func FlakyScenario() Config {
	c := QuickScenario()
	c.Name = "flaky"
	c.Description = "Simulated node with injected suspends, delays and failures"
	c.Simulate = true
	c.EnableChaos = true
	c.ChaosInterval = 5 * time.Second
	c.AttackTypes = []chaos.AttackType{chaos.AttackSuspend, chaos.AttackDelay, chaos.AttackFail}
	return c
}

var presets = map[string]func() Config{
	"quick":       QuickScenario,
	"micro":       MicroScenario,
	"blob":        BlobScenario,
	"soak":        SoakScenario,
	"update-only": UpdateOnlyScenario,
	"flaky":       FlakyScenario,
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
