// Package chaos はベンチマーク対象の台帳ノードに障害を注入する。
//
// Monkeyは一定間隔で健全なノードを選び、次のいずれかの障害を与える。
// 障害はFaultDurationが経過すると自動的に解除され、Stop時には全て解除される。
//
// # 障害タイプ
//
// - Suspend: ノードを一時停止（送信を全て拒否する）
// - Delay: ノードのレスポンスに遅延を注入
// - Fail: 一定割合の送信を拒否させる
//
// 負荷生成側から見ると、失敗率の上昇による減速や連続失敗時のバックオフを
// 実際に発生させるために使う。
//
// # 使用例
//
//	config := chaos.DefaultConfig()
//	config.Interval = 3 * time.Second
//
//	monkey := chaos.New([]chaos.Target{ledgerNode}, config)
//	monkey.Start(ctx)
//	defer monkey.Stop()
package chaos
