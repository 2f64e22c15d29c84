// Package speaker は espeak による読み上げを1つずつ順番に実行する
package speaker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"kikimimi/internal/alsa"
	"kikimimi/internal/args"
	"kikimimi/internal/device"
	"kikimimi/internal/event"
	"kikimimi/internal/process"
)

const (
	speechBinary = "espeak"
	playerBinary = "aplay"

	// DefaultSpeed は espeak -s の既定値（単語/分）
	DefaultSpeed = 130
)

// State は読み上げの状態
type State int

const (
	StateIdle     State = iota // 待機中
	StateSpeaking              // 読み上げ中
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options はスピーカーの設定
type Options struct {
	// Device は aplay の出力先。空の場合は aplay --list-devices から検出する
	Device string
	Speed  int
}

type queued struct {
	ctx   context.Context
	input any
}

// pipeline は espeak の出力を aplay に渡すパイプ
type pipeline struct {
	r *io.PipeReader
	w *io.PipeWriter
}

// Speaker は読み上げ要求を FIFO で処理する
type Speaker struct {
	*device.Base

	opts    Options
	espeak  *process.Supervisor
	aplay   *process.Supervisor
	elapsed *device.Elapsed

	detectOnce sync.Once
	device     string

	mu           sync.Mutex
	state        State
	queue        []queued
	pipe         *pipeline
	lastWordSent bool
}

// New は新しいSpeakerを作成する
func New(opts Options, deps device.Deps) *Speaker {
	if opts.Speed <= 0 {
		opts.Speed = DefaultSpeed
	}

	base := device.NewBase(device.KindSpeaker, deps)
	s := &Speaker{
		Base:    base,
		opts:    opts,
		espeak:  base.NewSupervisor(speechBinary),
		aplay:   base.NewSupervisor(playerBinary),
		elapsed: base.NewElapsed(),
		device:  opts.Device,
	}
	s.espeak.OnExit(s.handleSpeechExit)
	s.aplay.OnExit(s.handlePlayerExit)
	return s
}

// Device は出力先のデバイスを返す
// 未設定の場合は初回呼び出し時に検出する
func (s *Speaker) Device(ctx context.Context) string {
	s.detectOnce.Do(func() {
		if s.device != "" {
			return
		}
		card, err := alsa.Detect(ctx, s.Deps().Spawner)
		if err != nil {
			s.Logger().Warn().Err(err).Msg("出力デバイスの検出に失敗したため既定値を使用します")
		}
		s.device = card.PlugHW()
	})
	return s.device
}

// State は現在の状態を返す
func (s *Speaker) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsSpeaking は読み上げ中かを返す
func (s *Speaker) IsSpeaking() bool {
	return s.State() == StateSpeaking
}

// Queue は待機中の入力を返す
func (s *Speaker) Queue() []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]any, len(s.queue))
	for i, q := range s.queue {
		out[i] = q.input
	}
	return out
}

// ClearQueue は待機中の入力を破棄する
func (s *Speaker) ClearQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// CurrentTime は現在の読み上げの経過時間（秒）を返す
func (s *Speaker) CurrentTime() float64 {
	return s.elapsed.Current()
}

// Say は入力を読み上げる
//
// 読み上げ中の場合は入力をキューに積んで戻る。入力は文字列・シーケンス・
// "phrase" を含むオプションマップのいずれかで、空の入力や phrase の無い
// マップは何もしない。
func (s *Speaker) Say(ctx context.Context, input any) error {
	dev := s.Device(ctx)

	s.mu.Lock()
	if s.state == StateSpeaking {
		s.queue = append(s.queue, queued{ctx: ctx, input: input})
		s.mu.Unlock()
		return nil
	}
	list, err := s.speakLocked(ctx, input, dev)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if list != nil {
		s.started(list)
	}
	return nil
}

// speakLocked は入力を読み上げ用のプロセスとして起動する
// 起動しなかった場合は nil を返す
func (s *Speaker) speakLocked(ctx context.Context, input any, dev string) ([]string, error) {
	list, ok := args.Build(input, "phrase")
	if !ok || args.IsEmpty(list) {
		return nil, nil
	}
	list = args.WithDefaults(list, args.Options{{Key: "-s", Value: s.opts.Speed}})

	if dev == alsa.DefaultCard.PlugHW() {
		if _, err := s.espeak.Start(ctx, process.Command{Name: speechBinary, Args: list}); err != nil {
			return nil, fmt.Errorf("espeak の起動に失敗: %w", err)
		}
		s.enterSpeakingLocked()
		return list, nil
	}

	r, w := io.Pipe()
	if _, err := s.aplay.Start(ctx, process.Command{
		Name:  playerBinary,
		Args:  []string{"-f", "cd", "-D", dev},
		Stdin: r,
	}); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("aplay の起動に失敗: %w", err)
	}

	speechArgs := append(append([]string(nil), list...), "--stdout")
	if _, err := s.espeak.Start(ctx, process.Command{Name: speechBinary, Args: speechArgs, Stdout: w}); err != nil {
		_ = w.Close()
		s.aplay.Stop()
		return nil, fmt.Errorf("espeak の起動に失敗: %w", err)
	}

	s.pipe = &pipeline{r: r, w: w}
	s.enterSpeakingLocked()
	return list, nil
}

func (s *Speaker) enterSpeakingLocked() {
	s.state = StateSpeaking
	s.elapsed.Start(0, s.EmitTime)
	s.SetStatus(device.StatusActive)
}

func (s *Speaker) started(list []string) {
	s.Logger().Info().Strs("args", list).Msg("読み上げを開始しました")
	s.Emit(event.Event{Name: event.Say, Data: []byte(strings.Join(list, " "))})
}

// handleSpeechExit は espeak の自然終了を処理する
// パイプ経由の場合は aplay に EOF を渡し、aplay の終了を待つ
func (s *Speaker) handleSpeechExit(st process.ExitStatus) {
	s.mu.Lock()
	pipe := s.pipe
	s.mu.Unlock()

	if pipe != nil {
		if !st.Success() {
			s.Logger().Warn().Int("code", st.Code).Msg("espeak が異常終了しました")
		}
		_ = pipe.w.Close()
		return
	}
	s.finish(speechBinary, st)
}

// handlePlayerExit は aplay の自然終了を処理する
func (s *Speaker) handlePlayerExit(st process.ExitStatus) {
	s.mu.Lock()
	pipe := s.pipe
	s.mu.Unlock()

	if pipe != nil {
		// espeak の書き込みを終わらせる
		_ = pipe.r.Close()
	}
	s.espeak.Stop()
	s.finish(playerBinary, st)
}

// finish は1つの読み上げが終わった後の遷移を行う
// キューが残っていれば先頭を読み上げ、空なら待機状態に戻る
func (s *Speaker) finish(binary string, st process.ExitStatus) {
	s.mu.Lock()
	if s.state != StateSpeaking {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.pipe = nil
	s.elapsed.Reset()

	var next []string
	for len(s.queue) > 0 && s.state == StateIdle {
		q := s.queue[0]
		s.queue = s.queue[1:]

		list, err := s.speakLocked(q.ctx, q.input, s.device)
		if err != nil {
			s.Logger().Error().Err(err).Msg("キューの読み上げに失敗")
			continue
		}
		next = list
	}

	// lastword は最初にキューが空になったときだけ対象になる
	sendLastWord := false
	if s.state == StateIdle && !s.lastWordSent {
		s.lastWordSent = true
		sendLastWord = s.ListenerCount(event.LastWord) > 0
	}
	idle := s.state == StateIdle
	if idle {
		s.SetStatus(device.StatusInactive)
	}
	s.mu.Unlock()

	s.EmitExitError(binary, st)
	s.EmitName(event.Ended)

	if !idle {
		s.started(next)
		return
	}

	if sendLastWord {
		s.EmitName(event.LastWord)
	}
	s.EmitName(event.Empty)
}

// Stop は読み上げを中断する
// キューは保持され、次の Say の後に続けて読み上げられる
func (s *Speaker) Stop() {
	s.mu.Lock()
	if s.state != StateSpeaking {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	pipe := s.pipe
	s.pipe = nil
	s.elapsed.Stop()
	s.SetStatus(device.StatusInactive)
	s.mu.Unlock()

	s.espeak.Stop()
	s.aplay.Stop()
	if pipe != nil {
		_ = pipe.w.Close()
		_ = pipe.r.Close()
	}

	s.Logger().Info().Msg("読み上げを停止しました")
	s.EmitName(event.Stop)
}
