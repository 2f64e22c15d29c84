package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// frameBuffer は配信先ごとに保持するフレーム数
	frameBuffer = 4
	// wsWriteWait はWebSocketへの書き込み待ち時間
	wsWriteWait = 5 * time.Second
)

// startStreaming はカメラがストリーミングしていなければ開始する
func (s *Server) startStreaming(c *gin.Context) bool {
	if err := s.devices.Camera.Stream(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("カメラのストリーミング開始に失敗")
		abortWithError(c, http.StatusServiceUnavailable, "camera_not_active", "カメラがアクティブではありません")
		return false
	}
	return true
}

// handleCameraStream はMJPEGストリームを配信する
func (s *Server) handleCameraStream(c *gin.Context) {
	if !s.startStreaming(c) {
		return
	}

	// フレームチャンネルを取得
	frames, unsubscribe := s.devices.Camera.Frames(frameBuffer)
	defer unsubscribe()

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	writer := c.Writer
	writer.Flush()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	// 保持しているフレームがあれば先に送る
	if frame := s.devices.Camera.Frame(); frame != nil {
		if err := writePart(writer, frame); err != nil {
			return
		}
		writer.Flush()
	}

	for {
		select {
		case <-clientGone:
			return
		case <-s.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := writePart(writer, frame); err != nil {
				return
			}
			// バッファをフラッシュ
			writer.Flush()
		}
	}
}

// writePart はMJPEGの1フレーム分を書き込む
func writePart(w gin.ResponseWriter, frame []byte) error {
	if _, err := w.WriteString("--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

// handleCameraWebSocket はフレームをWebSocketのバイナリメッセージとして配信する
func (s *Server) handleCameraWebSocket(c *gin.Context) {
	if !s.startStreaming(c) {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		var herr websocket.HandshakeError
		if !errors.As(err, &herr) {
			s.logger.Error().Err(err).Msg("WebSocket接続の確立に失敗")
		}
		return
	}
	defer conn.Close()

	frames, unsubscribe := s.devices.Camera.Frames(frameBuffer)
	defer unsubscribe()

	// クライアントからのメッセージは読み捨て、切断を検知する
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(wsWriteWait))
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debug().Err(err).Msg("WebSocketへの書き込みに失敗")
				return
			}
		}
	}
}
