package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kikimimi/internal/capture"
	"kikimimi/internal/device"
	"kikimimi/internal/event"
	"kikimimi/internal/mjpeg"
	"kikimimi/internal/process"
)

const streamerBinary = "mjpg_streamer"

var (
	// ErrStopped はフレームを受け取る前にストリームが停止したことを表す
	ErrStopped = errors.New("カメラが停止しました")

	errStreamEnded = errors.New("ストリームが終了しました")
)

// Camera は mjpg_streamer を起動し、HTTP経由でMJPEGフレームを受け取る
type Camera struct {
	*device.Base

	opts     Options
	streamer *process.Supervisor
	client   *http.Client

	mu        sync.Mutex
	streaming bool
	gen       uint64
	cancel    context.CancelFunc
	drop      context.CancelFunc
	frame     []byte
	waiting   []*capture.Shot
}

// New は新しいCameraを作成する
func New(opts Options, deps device.Deps) *Camera {
	base := device.NewBase(device.KindCamera, deps)

	normalized, warnings := opts.normalize()
	for _, w := range warnings {
		base.Logger().Warn().Msg(w)
	}

	c := &Camera{
		Base:     base,
		opts:     normalized,
		streamer: base.NewSupervisor(streamerBinary),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: normalized.Timeout}).DialContext,
				ResponseHeaderTimeout: normalized.Timeout,
			},
		},
	}
	c.streamer.OnExit(c.handleStreamerExit)
	return c
}

// NewFromURL はストリームURLだけを指定してCameraを作成する
func NewFromURL(url string, deps device.Deps) *Camera {
	return New(Options{URL: url}, deps)
}

// Dimensions は "幅x高さ" 形式の解像度を返す
func (c *Camera) Dimensions() string {
	return c.opts.Dimensions
}

// URL はストリームURLを返す
func (c *Camera) URL() string {
	return c.opts.URL
}

// Options は正規化済みの設定を返す
func (c *Camera) Options() Options {
	return c.opts
}

// StreamerArgs は mjpg_streamer に渡す引数を返す
func (c *Camera) StreamerArgs() []string {
	input := fmt.Sprintf("/usr/lib/input_uvc.so -n -q %d -r %s -f %d -d %s ",
		c.opts.Quality, c.opts.Dimensions, c.opts.FPS, c.opts.Device)
	output := "/usr/lib/output_http.so -p " + strconv.Itoa(c.opts.Port)
	return []string{"-i", input, "-o", output}
}

// CaptureArgs は単発キャプチャに使うコマンドと引数を返す
func (c *Camera) CaptureArgs() (string, []string) {
	if c.opts.Capturer == CapturerFswebcam {
		return string(CapturerFswebcam), []string{
			"-r", c.opts.Dimensions,
			"--no-banner",
			"-d", c.opts.Device,
			"-",
		}
	}
	return string(CapturerFFmpeg), []string{
		"-f", "v4l2",
		"-video_size", c.opts.Dimensions,
		"-i", c.opts.Device,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2", // 高品質JPEG
		"-",
	}
}

// Streaming はストリーミング中かを返す
func (c *Camera) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Frame は最後に受信したフレームを返す
func (c *Camera) Frame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Stream は mjpg_streamer を起動し、フレームの受信を開始する
// 受信したフレームは data/frame イベントとして配信される
// 受信は Stop か ctx のキャンセルまで続く。既にストリーミング中の場合は何もしない
func (c *Camera) Stream(ctx context.Context) error {
	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return nil
	}

	if _, err := c.streamer.Start(ctx, process.Command{Name: streamerBinary, Args: c.StreamerArgs()}); err != nil && !errors.Is(err, process.ErrAlreadyRunning) {
		c.mu.Unlock()
		c.SetStatus(device.StatusError)
		return fmt.Errorf("mjpg_streamer の起動に失敗: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c.streaming = true
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.mu.Unlock()

	c.Logger().Info().Str("url", c.opts.URL).Msg("ストリーミングを開始しました")
	go c.run(streamCtx, gen)
	return nil
}

// Frames はフレームを受け取るチャンネルと購読解除の関数を返す
// 受け手が遅い場合、溢れたフレームは破棄される
func (c *Camera) Frames(buffer int) (<-chan []byte, func()) {
	ch := make(chan []byte, buffer)
	var once sync.Once
	var mu sync.Mutex
	closed := false

	off := c.On(event.Frame, func(ev event.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev.Data:
		default:
		}
	})

	return ch, func() {
		once.Do(func() {
			off()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}

func (c *Camera) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.RetryInterval
	exp.MaxInterval = c.opts.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Clock = c.Deps().Clock

	var b backoff.BackOff = exp
	if c.opts.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.opts.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// run は接続が切れるたびに再接続し、フレームを受信し続ける
func (c *Camera) run(ctx context.Context, gen uint64) {
	b := c.newBackOff(ctx)

	operation := func() error {
		// mjpg_streamer が落ちていれば起動し直してから接続する
		if !c.streamer.Running() {
			if _, err := c.streamer.Start(ctx, process.Command{Name: streamerBinary, Args: c.StreamerArgs()}); err != nil && !errors.Is(err, process.ErrAlreadyRunning) {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return fmt.Errorf("mjpg_streamer の再起動に失敗: %w", err)
			}
			c.Logger().Info().Msg("mjpg_streamer を再起動しました")
		}

		err := c.connect(ctx, gen, b)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.Logger().Warn().Err(err).Dur("retry_in", wait).Msg("ストリームに再接続します")
	}

	err := backoff.RetryNotify(operation, b, notify)
	if ctx.Err() != nil {
		// 親コンテキストのキャンセルで終了した場合も後始末する
		c.stop(gen)
		return
	}

	c.mu.Lock()
	current := c.streaming && c.gen == gen
	if current {
		c.streaming = false
		c.cancel()
		c.cancel = nil
	}
	waiting := c.waiting
	if current {
		c.waiting = nil
	}
	c.mu.Unlock()

	if !current {
		return
	}

	c.streamer.Stop()
	c.SetStatus(device.StatusError)
	c.Logger().Error().Err(err).Msg("ストリームへの再接続を諦めました")

	streamErr := fmt.Errorf("ストリームへの再接続に失敗: %w", err)
	for _, shot := range waiting {
		shot.Fail(streamErr)
	}
	if c.ListenerCount(event.Error) > 0 {
		c.Emit(event.Event{Name: event.Error, Err: streamErr})
	}
}

// connect はストリームに接続し、切断されるまでフレームを受信する
func (c *Camera) connect(ctx context.Context, gen uint64, b backoff.BackOff) error {
	ctx, drop := context.WithCancel(ctx)
	defer drop()

	c.mu.Lock()
	if !c.streaming || c.gen != gen {
		c.mu.Unlock()
		return backoff.Permanent(ErrStopped)
	}
	c.drop = drop
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.gen == gen {
			c.drop = nil
		}
		c.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("リクエストの作成に失敗: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ストリームへの接続に失敗: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ストリームの応答が不正です: %s", resp.Status)
	}

	c.SetStatus(device.StatusActive)
	err = mjpeg.Copy(resp.Body, func(frame []byte) {
		// フレームを受信できたので再試行回数を戻す
		b.Reset()
		c.handleFrame(gen, frame)
	})
	if err == nil {
		err = errStreamEnded
	}
	return err
}

func (c *Camera) handleFrame(gen uint64, frame []byte) {
	c.mu.Lock()
	if !c.streaming || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.frame = frame
	waiting := c.waiting
	c.waiting = nil
	c.mu.Unlock()

	for _, shot := range waiting {
		shot.Resolve(frame)
	}
	c.Emit(event.Event{Name: event.Data, Data: frame})
	c.Emit(event.Event{Name: event.Frame, Data: frame})
}

func (c *Camera) handleStreamerExit(st process.ExitStatus) {
	c.Logger().Warn().Int("code", st.Code).Msg("mjpg_streamer が終了しました")

	// ストリーミング中なら接続を切り、再接続ループで起動し直させる
	c.mu.Lock()
	drop := c.drop
	if !c.streaming {
		drop = nil
	}
	c.mu.Unlock()
	if drop != nil {
		drop()
	}

	c.EmitExitError(streamerBinary, st)
}

// Capture は1フレームを受け取るための新しい Shot を返す
// ストリーミング中は次のフレーム（Fresh でなければ保持中のフレーム）で、
// そうでなければ単発のキャプチャコマンドで解決される
func (c *Camera) Capture(ctx context.Context) *capture.Shot {
	shot := capture.NewShot()

	c.mu.Lock()
	if c.streaming {
		if c.frame != nil && !c.opts.Fresh {
			frame := c.frame
			c.mu.Unlock()
			shot.Resolve(frame)
			return shot
		}
		c.waiting = append(c.waiting, shot)
		c.mu.Unlock()
		return shot
	}
	c.mu.Unlock()

	go c.captureOnce(ctx, shot)
	return shot
}

func (c *Camera) captureOnce(ctx context.Context, shot *capture.Shot) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	name, args := c.CaptureArgs()
	var stdout, stderr bytes.Buffer

	p, err := c.Deps().Spawner.Spawn(ctx, process.Command{
		Name:   name,
		Args:   args,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		shot.Fail(fmt.Errorf("フレームキャプチャに失敗: %w", err))
		return
	}

	st := p.Wait()
	if !st.Success() {
		c.Logger().Error().Int("code", st.Code).Str("stderr", stderr.String()).Msg("フレームキャプチャに失敗")
		shot.Fail(fmt.Errorf("フレームキャプチャに失敗 (code=%d): %s", st.Code, stderr.String()))
		return
	}
	if stdout.Len() == 0 {
		shot.Fail(errors.New("キャプチャ結果が空です"))
		return
	}

	frame := stdout.Bytes()
	c.mu.Lock()
	c.frame = frame
	c.mu.Unlock()

	shot.Resolve(frame)
}

// Stop は mjpg_streamer を終了させ、ストリームの受信を止める
// 停止済みの場合は何もしない
func (c *Camera) Stop() {
	c.stop(0)
}

// stop は gen のストリームを停止する。gen が 0 の場合は現在のストリームを対象にする
func (c *Camera) stop(gen uint64) {
	c.mu.Lock()
	if !c.streaming || (gen != 0 && c.gen != gen) {
		c.mu.Unlock()
		return
	}
	c.streaming = false
	cancel := c.cancel
	c.cancel = nil
	waiting := c.waiting
	c.waiting = nil
	c.mu.Unlock()

	cancel()
	c.streamer.Stop()
	for _, shot := range waiting {
		shot.Fail(ErrStopped)
	}

	c.SetStatus(device.StatusInactive)
	c.Logger().Info().Msg("ストリーミングを停止しました")
	c.EmitName(event.Stop)
}
