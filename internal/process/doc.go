// Package process は外部コマンドの子プロセスを管理する
//
// # 責務
// - 子プロセスの起動と終了シグナルの送信
// - デバイス1つにつき子プロセス1つまでの所有権管理
// - 予期しない終了の検知と、実行ごとに1回だけの終了通知
// - 起動・終了回数のメトリクス記録
//
// # 仕様
// - Spawner: 子プロセスの起動を抽象化（本番は os/exec、テストは MockSpawner）
// - Supervisor: 所有するプロセスの開始・停止・終了通知
// - Stop はプロセスを所有していない場合は何もしない（二重停止でシグナルを二度送らない）
// - Stop で終了させた実行では終了通知を行わない
//
// # 前提要件
//   - pkill: KillStale で前回実行の残存プロセスを終了させる際に使用
package process
