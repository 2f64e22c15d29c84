package camera

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// 既定値
const (
	DefaultWidth         = 800
	DefaultHeight        = 600
	DefaultFPS           = 30
	DefaultQuality       = 100
	DefaultPort          = 8080
	DefaultDevice        = "/dev/video0"
	DefaultTimeout       = 10 * time.Second
	DefaultMaxRetries    = 10
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultMaxInterval   = 10 * time.Second
)

// Capturer は単発キャプチャに使うコマンド
type Capturer string

const (
	CapturerFFmpeg   Capturer = "ffmpeg"
	CapturerFswebcam Capturer = "fswebcam"
)

var (
	devicePattern = regexp.MustCompile(`^/dev/video\d+$`)
	streamSuffix  = "?action=stream"
)

// Options はカメラの設定
type Options struct {
	// Dimensions は "幅x高さ" 形式の解像度。指定時は Width/Height より優先する
	Dimensions string
	Width      int
	Height     int
	FPS        int
	Quality    int
	Port       int // mjpg_streamer の待ち受けポート
	Device     string
	URL        string // ?action=stream で終わるストリームURL

	// Timeout はストリーム接続の確立を待つ時間
	Timeout time.Duration

	// MaxRetries は連続した接続失敗の許容回数。0 は既定値、負数は無制限
	MaxRetries    int
	RetryInterval time.Duration
	MaxInterval   time.Duration

	Capturer Capturer
	// Fresh が true の場合、ストリーミング中の Capture は保持中のフレームを使わず次のフレームを待つ
	Fresh bool
}

// normalize は不正な値を既定値で置き換えた Options を返す
// 置き換えた項目は warnings に記録する
func (o Options) normalize() (Options, []string) {
	var warnings []string

	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Dimensions == "" {
		o.Dimensions = fmt.Sprintf("%dx%d", o.Width, o.Height)
	} else if w, h, ok := parseDimensions(o.Dimensions); ok {
		o.Width, o.Height = w, h
	} else {
		warnings = append(warnings, fmt.Sprintf("解像度の形式が不正です: %s", o.Dimensions))
		o.Dimensions = fmt.Sprintf("%dx%d", o.Width, o.Height)
	}

	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.Port <= 0 || o.Port > 65535 {
		o.Port = DefaultPort
	}

	if o.Device == "" {
		o.Device = DefaultDevice
	} else if !devicePattern.MatchString(o.Device) {
		warnings = append(warnings, fmt.Sprintf("デバイスパスが不正です: %s", o.Device))
		o.Device = DefaultDevice
	}

	if o.URL != "" && !strings.HasSuffix(o.URL, streamSuffix) {
		warnings = append(warnings, fmt.Sprintf("ストリームURLは %s で終わる必要があります: %s", streamSuffix, o.URL))
		o.URL = ""
	}
	if o.URL == "" {
		o.URL = fmt.Sprintf("http://%s:%d/%s", localAddress(), o.Port, streamSuffix)
	}

	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultMaxInterval
	}

	switch o.Capturer {
	case CapturerFFmpeg, CapturerFswebcam:
	case "":
		o.Capturer = CapturerFFmpeg
	default:
		warnings = append(warnings, fmt.Sprintf("未対応のキャプチャコマンドです: %s", o.Capturer))
		o.Capturer = CapturerFFmpeg
	}

	return o, warnings
}

func parseDimensions(s string) (int, int, bool) {
	var w, h int
	if n, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil || n != 2 || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// localAddress はループバック以外の最初のIPv4アドレスを返す
func localAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
