// Package camera は mjpg_streamer を使ったカメラ映像の取得を担う
//
// # 責務
// - mjpg_streamer の起動・停止とMJPEGストリームの受信
// - ストリームが切れた場合の再接続（指数バックオフ、回数上限付き）
// - ffmpeg / fswebcam による単発キャプチャ
// - V4L2デバイスの検出
//
// # 仕様
// - 受信したフレームは data と frame イベントで配信する
// - Capture は呼び出しごとに独立した Shot を返す
// - Stop は何度呼んでも mjpg_streamer へのシグナルは1回だけ
//
// # 前提要件
//   - mjpg_streamer: input_uvc.so と output_http.so が /usr/lib にあること
//   - ffmpeg または fswebcam: 単発キャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg fswebcam
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
