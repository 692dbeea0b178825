// Package scenario は1回のベンチマーク実行を組み立てて動かす。
//
// Engineはワーカーの準備、監視の起動、ワーカープールの実行、
// 結果とチェックポイントの書き出しを順に行う。
//
// # 準備
//
// - 新規: ワーカーごとに鍵を作り、8件ずつ並列に払い出しを受け、
// 初期オブジェクトを100件ずつ作成する
// - 復元: チェックポイントから鍵と追跡中の参照を読み込み、払い出しを受け、
// 台帳の現在のバージョンに合わせる
//
// 準備中の失敗はすべてErrSetupで包まれる。ループが始まった後の送信失敗は
// 統計に数えられるだけで、Runのエラーにはならない。
//
// # プリセット
//
// - quick: 短時間の動作確認
// - micro: カウンタオブジェクトの大きなバッチ
// - blob: 4KBのBlobオブジェクト
// - soak: 目標TPSで抑えた長時間実行
// - update-only: 作成なし、更新のみ
// - flaky: インプロセスのノードに障害を注入
//
// # 使用例
//
//	cfg, _ := scenario.GetPreset("quick")
//	engine := scenario.NewEngine(cfg, scenario.Backend{Ledger: l, Dispenser: l})
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
