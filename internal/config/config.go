package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"kikimimi/internal/camera"
	"kikimimi/internal/logging"
	"kikimimi/internal/microphone"
	"kikimimi/internal/player"
	"kikimimi/internal/speaker"
)

// EnvConfigPath は設定ファイルのパスを指定する環境変数
const EnvConfigPath = "KIKIMIMI_CONFIG"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Camera     CameraConfig     `yaml:"camera"`
	Microphone MicrophoneConfig `yaml:"microphone"`
	Speaker    SpeakerConfig    `yaml:"speaker"`
	Player     PlayerConfig     `yaml:"player"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // シャットダウンの待ち時間
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console または json
	File   string `yaml:"file"`   // 追加の出力先ファイル
}

// CameraConfig はカメラの設定
type CameraConfig struct {
	Device  string `yaml:"device"` // デバイスパス (例: /dev/video0)
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	FPS     int    `yaml:"fps"`
	Quality int    `yaml:"quality"` // JPEG品質 (1-100)
	Port    int    `yaml:"port"`    // mjpg_streamer の待ち受けポート
	URL     string `yaml:"url"`     // ?action=stream で終わるストリームURL

	Timeout       time.Duration `yaml:"timeout"`        // ストリーム接続の確立を待つ時間
	MaxRetries    int           `yaml:"max_retries"`    // 連続した接続失敗の許容回数（負数で無制限）
	RetryInterval time.Duration `yaml:"retry_interval"` // 再接続の初回待ち時間

	Capturer  string `yaml:"capturer"`  // ffmpeg または fswebcam
	Fresh     bool   `yaml:"fresh"`     // キャプチャで常に次のフレームを待つ
	Autostart bool   `yaml:"autostart"` // 起動時にストリーミングを開始する
}

// MicrophoneConfig はマイクの設定
type MicrophoneConfig struct {
	Format string `yaml:"format"` // arecord -f
	Rate   int    `yaml:"rate"`   // arecord -r
	Device string `yaml:"device"` // arecord -D
}

// SpeakerConfig はスピーカーの設定
type SpeakerConfig struct {
	Device string `yaml:"device"` // aplay -D（空なら自動検出）
	Speed  int    `yaml:"speed"`  // espeak -s
}

// PlayerConfig はプレイヤーの設定
type PlayerConfig struct {
	Device   string `yaml:"device"`    // madplay -o（空なら自動検出）
	MediaDir string `yaml:"media_dir"` // APIから再生できるファイルのディレクトリ
}

// Default はデフォルト値の設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Camera: CameraConfig{
			Device:        camera.DefaultDevice,
			Width:         camera.DefaultWidth,
			Height:        camera.DefaultHeight,
			FPS:           camera.DefaultFPS,
			Quality:       camera.DefaultQuality,
			Port:          camera.DefaultPort,
			Timeout:       camera.DefaultTimeout,
			MaxRetries:    camera.DefaultMaxRetries,
			RetryInterval: camera.DefaultRetryInterval,
			Capturer:      string(camera.CapturerFFmpeg),
		},
		Microphone: MicrophoneConfig{
			Format: "cd",
			Rate:   48000,
		},
		Speaker: SpeakerConfig{
			Speed: speaker.DefaultSpeed,
		},
		Player: PlayerConfig{
			MediaDir: ".",
		},
	}
}

// Load は設定を読み込む
// デフォルト値、KIKIMIMI_CONFIG の設定ファイル、環境変数の順に上書きする
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigPath))
}

// LoadFile は指定した設定ファイルを使って設定を読み込む
// path が空の場合は設定ファイルを読まない
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.merge(path); err != nil {
			return nil, err
		}
	}

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// merge は YAML ファイルの内容で設定を上書きする
// ファイルに書かれていない項目は現在の値のまま残る
func (c *Config) merge(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗: %w", err)
	}
	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("無効なログレベル: %s", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("無効なログ形式: %s", c.Log.Format))
	}

	if c.Camera.Quality < 0 || c.Camera.Quality > 100 {
		errs = append(errs, fmt.Errorf("無効なJPEG品質: %d", c.Camera.Quality))
	}
	if c.Camera.Port < 0 || c.Camera.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なストリームポート: %d", c.Camera.Port))
	}
	if c.Camera.Port != 0 && c.Camera.Port == c.Server.Port {
		errs = append(errs, fmt.Errorf("サーバーとmjpg_streamerのポートが重複しています: %d", c.Server.Port))
	}
	switch camera.Capturer(c.Camera.Capturer) {
	case "", camera.CapturerFFmpeg, camera.CapturerFswebcam:
	default:
		errs = append(errs, fmt.Errorf("未対応のキャプチャコマンド: %s", c.Camera.Capturer))
	}

	if c.Microphone.Rate < 0 {
		errs = append(errs, fmt.Errorf("無効なサンプリングレート: %d", c.Microphone.Rate))
	}
	if c.Speaker.Speed < 0 {
		errs = append(errs, fmt.Errorf("無効な読み上げ速度: %d", c.Speaker.Speed))
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Options はロガーの設定に変換する
func (c LogConfig) Options() logging.Options {
	return logging.Options{Level: c.Level, Format: c.Format, File: c.File}
}

// Options はカメラの設定に変換する
func (c CameraConfig) Options() camera.Options {
	return camera.Options{
		Width:         c.Width,
		Height:        c.Height,
		FPS:           c.FPS,
		Quality:       c.Quality,
		Port:          c.Port,
		Device:        c.Device,
		URL:           c.URL,
		Timeout:       c.Timeout,
		MaxRetries:    c.MaxRetries,
		RetryInterval: c.RetryInterval,
		Capturer:      camera.Capturer(c.Capturer),
		Fresh:         c.Fresh,
	}
}

// Options はマイクの設定に変換する
func (c MicrophoneConfig) Options() microphone.Options {
	return microphone.Options{Format: c.Format, Rate: c.Rate, Device: c.Device}
}

// Options はスピーカーの設定に変換する
func (c SpeakerConfig) Options() speaker.Options {
	return speaker.Options{Device: c.Device, Speed: c.Speed}
}

// Options はプレイヤーの設定に変換する
func (c PlayerConfig) Options() player.Options {
	return player.Options{Device: c.Device}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
