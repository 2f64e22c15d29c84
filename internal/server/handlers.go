package server

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kikimimi/internal/args"
	"kikimimi/internal/camera"
	"kikimimi/internal/device"
	"kikimimi/internal/microphone"
	"kikimimi/internal/player"
	"kikimimi/internal/timecode"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse は /api/status のレスポンス
type StatusResponse struct {
	Status     string           `json:"status"`
	Server     ServerInfo       `json:"server"`
	Camera     CameraStatus     `json:"camera"`
	Microphone MicrophoneStatus `json:"microphone"`
	Speaker    SpeakerStatus    `json:"speaker"`
	Player     PlayerStatus     `json:"player"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ServerInfo はサーバーの待ち受け情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// CameraStatus はカメラの状態
type CameraStatus struct {
	device.Info
	Dimensions string `json:"dimensions"`
	URL        string `json:"url"`
	Streaming  bool   `json:"streaming"`
}

// MicrophoneStatus はマイクの状態
type MicrophoneStatus struct {
	device.Info
	Listening   bool    `json:"listening"`
	CurrentTime float64 `json:"currentTime"`
}

// SpeakerStatus はスピーカーの状態
type SpeakerStatus struct {
	device.Info
	State       string  `json:"state"`
	Queue       int     `json:"queue"`
	CurrentTime float64 `json:"currentTime"`
}

// PlayerStatus はプレイヤーの状態
type PlayerStatus struct {
	device.Info
	File        string  `json:"file"`
	Playing     bool    `json:"playing"`
	Paused      bool    `json:"paused"`
	CurrentTime float64 `json:"currentTime"`
}

// SayRequest は読み上げのリクエスト
// Args を指定した場合は espeak の引数としてそのまま使う
type SayRequest struct {
	Phrase string   `json:"phrase"`
	Speed  int      `json:"speed"`
	Args   []string `json:"args"`
}

// PlayRequest は再生のリクエスト
// At は秒数または hh:mm:ss 形式のタイムコード
type PlayRequest struct {
	File string `json:"file"`
	At   any    `json:"at"`
}

// ListenRequest は録音開始のリクエスト
type ListenRequest struct {
	Args    []string `json:"args"`
	Monitor bool     `json:"monitor"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleMetrics は Prometheus 形式のメトリクスを返す
func (s *Server) handleMetrics() gin.HandlerFunc {
	h := promhttp.InstrumentMetricHandler(s.registry, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return gin.WrapH(h)
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	d := s.devices
	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{Host: s.config.Server.Host, Port: s.config.Server.Port},
		Camera: CameraStatus{
			Info:       d.Camera.Info(),
			Dimensions: d.Camera.Dimensions(),
			URL:        d.Camera.URL(),
			Streaming:  d.Camera.Streaming(),
		},
		Microphone: MicrophoneStatus{
			Info:        d.Microphone.Info(),
			Listening:   d.Microphone.IsListening(),
			CurrentTime: d.Microphone.CurrentTime(),
		},
		Speaker: SpeakerStatus{
			Info:        d.Speaker.Info(),
			State:       d.Speaker.State().String(),
			Queue:       len(d.Speaker.Queue()),
			CurrentTime: d.Speaker.CurrentTime(),
		},
		Player: PlayerStatus{
			Info:        d.Player.Info(),
			File:        d.Player.File(),
			Playing:     d.Player.IsPlaying(),
			Paused:      d.Player.IsPaused(),
			CurrentTime: d.Player.CurrentTime(),
		},
		Timestamp: time.Now(),
	})
}

// handleCameraFrame は1枚のJPEG画像を返す
func (s *Server) handleCameraFrame(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.devices.Camera.Options().Timeout)
	defer cancel()

	data, err := s.devices.Camera.Capture(ctx).Bytes(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("画像の取得に失敗")
		abortWithError(c, http.StatusServiceUnavailable, "capture_failed", err.Error())
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleCameraDevices は接続されているカメラの一覧を返す
func (s *Server) handleCameraDevices(c *gin.Context) {
	ctx := c.Request.Context()

	paths, err := s.devices.Discovery.ScanDevices(ctx)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "scan_failed", err.Error())
		return
	}

	infos := make([]*camera.DeviceInfo, 0, len(paths))
	for _, path := range paths {
		info, err := s.devices.Discovery.GetDeviceInfo(ctx, path)
		if err != nil {
			s.logger.Debug().Err(err).Str("device", path).Msg("デバイス情報の取得に失敗")
			info = &camera.DeviceInfo{Device: path}
		}
		infos = append(infos, info)
	}
	c.JSON(http.StatusOK, gin.H{"devices": infos})
}

// handleCameraStop はストリーミングを停止する
func (s *Server) handleCameraStop(c *gin.Context) {
	s.devices.Camera.Stop()
	c.JSON(http.StatusOK, gin.H{"status": s.devices.Camera.Status()})
}

// handleSpeakerSay は文章を読み上げる。読み上げ中はキューに積まれる
func (s *Server) handleSpeakerSay(c *gin.Context) {
	var req SayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var input any
	switch {
	case len(req.Args) > 0:
		input = req.Args
	case strings.TrimSpace(req.Phrase) != "":
		opts := args.Options{{Key: "phrase", Value: req.Phrase}}
		if req.Speed > 0 {
			opts = append(opts, args.Option{Key: "s", Value: req.Speed})
		}
		input = opts
	default:
		abortWithError(c, http.StatusBadRequest, "invalid_request", "phrase または args を指定してください")
		return
	}

	if err := s.devices.Speaker.Say(s.ctx, input); err != nil {
		abortWithError(c, http.StatusInternalServerError, "say_failed", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"state": s.devices.Speaker.State().String(),
		"queue": len(s.devices.Speaker.Queue()),
	})
}

// handleSpeakerStop は読み上げを中断する
func (s *Server) handleSpeakerStop(c *gin.Context) {
	s.devices.Speaker.Stop()
	c.JSON(http.StatusOK, gin.H{"state": s.devices.Speaker.State().String()})
}

// handleSpeakerClearQueue は読み上げ待ちの文章を破棄する
func (s *Server) handleSpeakerClearQueue(c *gin.Context) {
	s.devices.Speaker.ClearQueue()
	c.Status(http.StatusNoContent)
}

// resolveMedia はメディアディレクトリ内のパスに変換する
// ディレクトリの外を指すパスは拒否する
func (s *Server) resolveMedia(name string) (string, bool) {
	base := s.config.Player.MediaDir
	if base == "" {
		base = "."
	}
	clean := filepath.Clean("/" + filepath.ToSlash(name))
	if clean == "/" {
		return "", false
	}
	return filepath.Join(base, clean), true
}

// handlePlayerPlay は mp3 の再生を開始する
func (s *Server) handlePlayerPlay(c *gin.Context) {
	var req PlayRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	var input any
	if req.File != "" {
		path, ok := s.resolveMedia(req.File)
		if !ok {
			abortWithError(c, http.StatusBadRequest, "invalid_file", "ファイル名が不正です")
			return
		}
		input = path
	}

	var at []any
	if req.At != nil {
		at = append(at, req.At)
	}

	if err := s.devices.Player.Play(s.ctx, input, at...); err != nil {
		switch {
		case errors.Is(err, player.ErrUnsupportedFormat), errors.Is(err, timecode.ErrInvalid), errors.Is(err, player.ErrNoFile):
			abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			abortWithError(c, http.StatusInternalServerError, "play_failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file":    s.devices.Player.File(),
		"playing": s.devices.Player.IsPlaying(),
	})
}

// handlePlayerPause は再生を一時停止する
func (s *Server) handlePlayerPause(c *gin.Context) {
	s.devices.Player.Pause()
	c.JSON(http.StatusOK, gin.H{
		"paused":      s.devices.Player.IsPaused(),
		"currentTime": s.devices.Player.CurrentTime(),
	})
}

// handlePlayerStop は再生を停止する
func (s *Server) handlePlayerStop(c *gin.Context) {
	s.devices.Player.Stop()
	c.JSON(http.StatusOK, gin.H{"playing": s.devices.Player.IsPlaying()})
}

// handleMicrophoneListen は録音を開始する
func (s *Server) handleMicrophoneListen(c *gin.Context) {
	var req ListenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	var input any
	if len(req.Args) > 0 {
		input = req.Args
	}

	stream, err := s.devices.Microphone.Listen(s.ctx, input)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "listen_failed", err.Error())
		return
	}
	// データは capture と monitor で受け取るため、ここでの購読は不要
	_ = stream.Close()

	if req.Monitor {
		if err := s.devices.Microphone.Monitor(s.ctx, nil); err != nil {
			s.logger.Warn().Err(err).Msg("モニター再生の開始に失敗")
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"listening": s.devices.Microphone.IsListening()})
}

// handleMicrophoneStop は録音を停止する
func (s *Server) handleMicrophoneStop(c *gin.Context) {
	s.devices.Microphone.Stop()
	c.JSON(http.StatusOK, gin.H{"listening": s.devices.Microphone.IsListening()})
}

// handleMicrophoneCapture は次に録音されたチャンクを返す
func (s *Server) handleMicrophoneCapture(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	data, err := s.devices.Microphone.Capture().Bytes(ctx)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, microphone.ErrNotListening) {
			status = http.StatusConflict
		}
		abortWithError(c, status, "capture_failed", err.Error())
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
