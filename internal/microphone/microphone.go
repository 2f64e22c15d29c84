// Package microphone は arecord による録音と aplay によるモニター再生を担う
package microphone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"kikimimi/internal/args"
	"kikimimi/internal/capture"
	"kikimimi/internal/device"
	"kikimimi/internal/event"
	"kikimimi/internal/process"
)

const (
	recorderBinary = "arecord"
	monitorBinary  = "aplay"
)

var (
	// ErrNotListening は録音中でないときの操作を表す
	ErrNotListening = errors.New("録音していません")
	// ErrStopped は録音が停止したことを表す
	ErrStopped = errors.New("録音が停止しました")
)

// Options は録音の既定値
type Options struct {
	Format string // arecord -f
	Rate   int    // arecord -r
	Device string // arecord -D（空なら指定しない）
}

// Microphone は arecord の出力を購読者とイベントへ配る
type Microphone struct {
	*device.Base

	opts     Options
	recorder *process.Supervisor
	monitor  *process.Supervisor
	elapsed  *device.Elapsed

	mu        sync.Mutex
	listening bool
	run       uint64
	feed      *capture.Feed
	waiting   []*capture.Shot
}

// New は新しいMicrophoneを作成する
func New(opts Options, deps device.Deps) *Microphone {
	if opts.Format == "" {
		opts.Format = "cd"
	}
	if opts.Rate <= 0 {
		opts.Rate = 48000
	}

	base := device.NewBase(device.KindMicrophone, deps)
	m := &Microphone{
		Base:     base,
		opts:     opts,
		recorder: base.NewSupervisor(recorderBinary),
		monitor:  base.NewSupervisor(monitorBinary),
		elapsed:  base.NewElapsed(),
	}
	m.recorder.OnExit(m.handleExit)
	m.monitor.OnExit(func(st process.ExitStatus) {
		m.Logger().Debug().Int("code", st.Code).Msg("モニター再生が終了しました")
	})
	return m
}

// DefaultArgs は入力が空のときに arecord へ渡す引数を返す
func (m *Microphone) DefaultArgs() []string {
	list := []string{"-f", m.opts.Format, "-r", strconv.Itoa(m.opts.Rate)}
	if m.opts.Device != "" {
		list = append(list, "-D", m.opts.Device)
	}
	return list
}

// Listen は録音を開始し、録音データを読み出す Reader を返す
// 既に録音中の場合は新しい購読だけを返す
func (m *Microphone) Listen(ctx context.Context, input any) (io.ReadCloser, error) {
	list, ok := args.Build(input, "")
	if !ok {
		return nil, fmt.Errorf("録音の引数が不正です: %v", input)
	}
	if args.IsEmpty(list) {
		list = m.DefaultArgs()
	}

	m.mu.Lock()
	if m.listening {
		sub := m.feed.Subscribe()
		m.mu.Unlock()
		return sub, nil
	}

	feed := capture.NewFeed()
	m.run++
	w := &chunkWriter{mic: m, feed: feed, run: m.run}
	if _, err := m.recorder.Start(ctx, process.Command{Name: recorderBinary, Args: list, Stdout: w}); err != nil {
		m.mu.Unlock()
		m.SetStatus(device.StatusError)
		return nil, fmt.Errorf("録音の開始に失敗: %w", err)
	}
	m.listening = true
	m.feed = feed
	sub := feed.Subscribe()
	m.elapsed.Start(0, m.EmitTime)
	m.SetStatus(device.StatusActive)
	m.mu.Unlock()

	m.Logger().Info().Strs("args", list).Msg("録音を開始しました")
	m.EmitName(event.Listen)
	return sub, nil
}

// chunkWriter は arecord の標準出力を受け取る
type chunkWriter struct {
	mic  *Microphone
	feed *capture.Feed
	run  uint64
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w.mic.handleChunk(w.run, w.feed, chunk)
	return len(p), nil
}

func (m *Microphone) handleChunk(run uint64, feed *capture.Feed, chunk []byte) {
	m.mu.Lock()
	if !m.listening || m.run != run {
		m.mu.Unlock()
		return
	}
	waiting := m.waiting
	m.waiting = nil
	m.mu.Unlock()

	feed.Push(chunk)
	for _, shot := range waiting {
		shot.Resolve(chunk)
	}
	m.Emit(event.Event{Name: event.Data, Data: chunk})
	m.EmitTime(m.elapsed.Current())
}

// handleExit は arecord の自然終了を処理する
func (m *Microphone) handleExit(st process.ExitStatus) {
	feed, waiting, ok := m.release()
	if !ok {
		return
	}

	m.monitor.Stop()
	feed.Close()
	for _, shot := range waiting {
		shot.Fail(ErrStopped)
	}

	m.SetStatus(device.StatusInactive)
	m.Logger().Info().Int("code", st.Code).Msg("録音が終了しました")
	m.EmitExitError(recorderBinary, st)
	m.EmitName(event.Close)
}

// release は録音中の状態を解除し、タイマーを0に戻す
func (m *Microphone) release() (*capture.Feed, []*capture.Shot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.listening {
		return nil, nil, false
	}
	feed, waiting := m.feed, m.waiting
	m.elapsed.Reset()
	m.listening = false
	m.feed = nil
	m.waiting = nil
	return feed, waiting, true
}

// Capture は次に録音されたチャンクで解決される Shot を返す
func (m *Microphone) Capture() *capture.Shot {
	shot := capture.NewShot()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.listening {
		shot.Fail(ErrNotListening)
		return shot
	}
	m.waiting = append(m.waiting, shot)
	return shot
}

// Monitor は録音中の音声を aplay で再生する
// src が nil の場合は録音データを直接再生する
func (m *Microphone) Monitor(ctx context.Context, src io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.listening {
		return ErrNotListening
	}
	if src == nil {
		src = m.feed.Subscribe()
	}

	_, err := m.monitor.Start(ctx, process.Command{Name: monitorBinary, Args: []string{"-f", "cd"}, Stdin: src})
	if errors.Is(err, process.ErrAlreadyRunning) {
		if c, ok := src.(io.Closer); ok {
			_ = c.Close()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("モニター再生の開始に失敗: %w", err)
	}
	return nil
}

// Stop は録音とモニター再生を止める
// 録音していない場合は何もしない
func (m *Microphone) Stop() {
	feed, waiting, ok := m.release()
	if !ok {
		return
	}

	m.recorder.Stop()
	m.monitor.Stop()
	feed.Close()
	for _, shot := range waiting {
		shot.Fail(ErrStopped)
	}

	m.SetStatus(device.StatusInactive)
	m.Logger().Info().Msg("録音を停止しました")
	m.EmitName(event.Stop)
}

// CurrentTime は録音開始からの経過時間（秒）を返す
func (m *Microphone) CurrentTime() float64 {
	return m.elapsed.Current()
}

// IsListening は録音中かを返す
func (m *Microphone) IsListening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}
