package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kikimimi/internal/camera"
	"kikimimi/internal/config"
	"kikimimi/internal/device"
	"kikimimi/internal/microphone"
	"kikimimi/internal/player"
	"kikimimi/internal/process"
	"kikimimi/internal/speaker"
)

// Devices はサーバーが公開するデバイス群
type Devices struct {
	Camera     *camera.Camera
	Microphone *microphone.Microphone
	Speaker    *speaker.Speaker
	Player     *player.Player
	Discovery  camera.Discovery
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	httpServer *http.Server
	engine     *gin.Engine
	devices    Devices
	registry   *prometheus.Registry
	logger     zerolog.Logger
	upgrader   websocket.Upgrader

	// デバイスのプロセスはリクエストではなくサーバーの寿命に紐づける
	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// New は新しいServerインスタンスを作成する
// deps のゼロ値のフィールドは本番用の実装で補われる
func New(cfg *config.Config, deps device.Deps) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if deps.Metrics == nil {
		deps.Metrics = process.NewMetrics(registry)
	}
	deps = deps.WithDefaults()

	p, err := player.New(cfg.Player.Options(), deps)
	if err != nil {
		return nil, fmt.Errorf("プレイヤーの作成に失敗: %w", err)
	}

	devices := Devices{
		Camera:     camera.New(cfg.Camera.Options(), deps),
		Microphone: microphone.New(cfg.Microphone.Options(), deps),
		Speaker:    speaker.New(cfg.Speaker.Options(), deps),
		Player:     p,
		Discovery:  camera.NewLinuxDiscovery(deps.Spawner),
	}

	return NewWithDevices(cfg, devices, registry, *deps.Logger), nil
}

// NewWithDevices は作成済みのデバイスを使ってServerを作成する
func NewWithDevices(cfg *config.Config, devices Devices, registry *prometheus.Registry, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:   cfg,
		devices:  devices,
		registry: registry,
		logger:   logger.With().Str("component", "server").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Devices は公開中のデバイスを返す
func (s *Server) Devices() Devices {
	return s.devices
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	r := s.engine

	// ヘルスチェックエンドポイント
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.handleMetrics())
	r.GET("/", s.handleRoot)

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)

	cam := api.Group("/camera")
	cam.GET("/frame", s.handleCameraFrame)
	cam.GET("/stream", s.handleCameraStream)
	cam.GET("/ws", s.handleCameraWebSocket)
	cam.GET("/devices", s.handleCameraDevices)
	cam.POST("/stop", s.handleCameraStop)

	spk := api.Group("/speaker")
	spk.POST("/say", s.handleSpeakerSay)
	spk.POST("/stop", s.handleSpeakerStop)
	spk.DELETE("/queue", s.handleSpeakerClearQueue)

	ply := api.Group("/player")
	ply.POST("/play", s.handlePlayerPlay)
	ply.POST("/pause", s.handlePlayerPause)
	ply.POST("/stop", s.handlePlayerStop)

	mic := api.Group("/microphone")
	mic.POST("/listen", s.handleMicrophoneListen)
	mic.POST("/stop", s.handleMicrophoneStop)
	mic.GET("/capture", s.handleMicrophoneCapture)
}

// requestLogger はリクエストごとにアクセスログを出力するミドルウェア
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("リクエストを処理しました")
	}
}

// Start はサーバーを起動し、シグナルか ctx のキャンセルまでブロックする
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// サーバーを別ゴルーチンで起動
	g.Go(func() error {
		s.logger.Info().Str("addr", s.config.ServerAddress()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		return nil
	})

	if s.config.Camera.Autostart {
		g.Go(func() error {
			if err := s.devices.Camera.Stream(s.ctx); err != nil {
				s.logger.Error().Err(err).Msg("カメラのストリーミング開始に失敗")
			}
			return nil
		})
	}

	// コンテキストかシグナル、または Shutdown の直接呼び出しを待つ
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.ctx.Done():
		}
		if ctx.Err() != nil {
			s.logger.Info().Msg("停止要求を受信しました")
		}
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown はデバイスを停止し、サーバーをグレースフルにシャットダウンする
// 2回目以降の呼び出しは最初の結果を返す
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.logger.Info().Msg("サーバーをシャットダウンしています...")

		// ストリーミング中のハンドラを終わらせる
		s.cancel()
		s.stopDevices()

		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.shutdownErr = fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
			return
		}
		s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	})
	return s.shutdownErr
}

// stopDevices はすべてのデバイスを並行して停止する
func (s *Server) stopDevices() {
	var g errgroup.Group
	g.Go(func() error { s.devices.Camera.Stop(); return nil })
	g.Go(func() error { s.devices.Microphone.Stop(); return nil })
	g.Go(func() error { s.devices.Speaker.Stop(); return nil })
	g.Go(func() error { s.devices.Player.Stop(); return nil })
	_ = g.Wait()
}
