// Package server は、デバイスを操作するHTTPサーバーを提供します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラ映像のMJPEGストリーミングとWebSocket配信
//   - 読み上げ・再生・録音のAPI
//   - Prometheus形式のメトリクス公開
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - 子プロセスはリクエストではなくサーバーの寿命に紐づけて起動する
//   - SIGINT/SIGTERMでデバイスをすべて停止してから終了する
package server
