// Package player は madplay による mp3 の再生を担う
package player

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"kikimimi/internal/alsa"
	"kikimimi/internal/args"
	"kikimimi/internal/device"
	"kikimimi/internal/event"
	"kikimimi/internal/process"
	"kikimimi/internal/timecode"
)

const playerBinary = "madplay"

// Framerate は ";" 区切りのフレーム指定を秒に換算するときのフレームレート
const Framerate = 30

var (
	// ErrUnsupportedFormat は mp3 以外のファイルを表す
	ErrUnsupportedFormat = errors.New("mp3 以外のファイルには対応していません")
	// ErrNoFile は再生するファイルが未指定であることを表す
	ErrNoFile = errors.New("再生するファイルが指定されていません")
)

// Options はプレイヤーの設定
type Options struct {
	File string
	// Device は madplay -o の出力先。空の場合は検出したカード番号から /dev/dsp を決める
	Device string
}

// Player は mp3 ファイルを再生・一時停止・停止する
type Player struct {
	*device.Base

	madplay *process.Supervisor
	elapsed *device.Elapsed

	detectOnce sync.Once
	device     string

	mu        sync.Mutex
	file      string
	playing   bool
	paused    bool
	pauseTime float64
}

// New は新しいPlayerを作成する
// ファイル名は空でもよいが、指定する場合は .mp3 でなければならない
func New(opts Options, deps device.Deps) (*Player, error) {
	if opts.File != "" {
		if err := checkFormat(opts.File); err != nil {
			return nil, err
		}
	}

	base := device.NewBase(device.KindPlayer, deps)
	p := &Player{
		Base:    base,
		madplay: base.NewSupervisor(playerBinary),
		elapsed: base.NewElapsed(),
		device:  opts.Device,
		file:    opts.File,
	}
	p.madplay.OnExit(p.handleExit)
	return p, nil
}

func isMP3(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".mp3")
}

func checkFormat(name string) error {
	if isMP3(name) {
		return nil
	}
	mp3 := strings.TrimSuffix(name, filepath.Ext(name)) + ".mp3"
	return fmt.Errorf("%w: %s (変換例: ffmpeg -i %s %s)", ErrUnsupportedFormat, name, name, mp3)
}

// Device は出力先のデバイスを返す
func (p *Player) Device(ctx context.Context) string {
	p.detectOnce.Do(func() {
		if p.device != "" {
			return
		}
		card, err := alsa.Detect(ctx, p.Deps().Spawner)
		if err != nil {
			p.Logger().Warn().Err(err).Msg("出力デバイスの検出に失敗したため既定値を使用します")
		}
		p.device = card.DSP()
	})
	return p.device
}

// File は再生対象のファイルを返す
func (p *Player) File() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file
}

// IsPlaying は再生中かを返す
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// IsPaused は一時停止中かを返す
func (p *Player) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// CurrentTime は再生位置（秒）を返す
func (p *Player) CurrentTime() float64 {
	return p.elapsed.Current()
}

// request は Play の入力を解釈した結果
type request struct {
	file    string   // 再生するファイル（空なら現在のファイル）
	start   *float64 // 開始位置
	raw     []string // そのまま渡す引数
	useRaw  bool
	ignored bool
}

// parse は入力を解釈する。不正な入力はエラーになる
func parse(input any) (request, error) {
	switch v := input.(type) {
	case nil:
		return request{}, nil
	case string:
		s := strings.TrimSpace(v)
		switch {
		case s == "":
			return request{}, nil
		case isMP3(s):
			return request{file: s}, nil
		case timecode.Valid(s):
			t, err := timecode.ToSeconds(s, Framerate)
			if err != nil {
				return request{}, err
			}
			return request{start: &t}, nil
		case filepath.Ext(s) != "":
			return request{}, checkFormat(s)
		default:
			return request{}, fmt.Errorf("%w: %q", timecode.ErrInvalid, s)
		}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		t := seconds(v)
		return request{start: &t}, nil
	case args.Options:
		list, ok := args.FromOptions(v, "file")
		if !ok {
			return request{ignored: true}, nil
		}
		file, _ := v.Get("file")
		name := strings.TrimSpace(args.Format(file))
		if !isMP3(name) {
			return request{}, checkFormat(name)
		}
		return request{file: name, raw: list, useRaw: true}, nil
	default:
		list, _ := args.Build(v, "")
		return request{raw: list, useRaw: true}, nil
	}
}

// seconds は数値型の値を秒数に変換する
func seconds(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// Play は再生を開始する
//
// input には mp3 ファイル名・タイムコード・秒数・引数のシーケンス・
// "file" を含むオプションマップを指定できる。at を指定すると開始位置になるが、
// 一時停止からの再開では一時停止した位置が優先される。
// 再生中の場合は何もしない。
func (p *Player) Play(ctx context.Context, input any, at ...any) error {
	req, err := parse(input)
	if err != nil {
		return err
	}
	if req.ignored {
		return nil
	}
	if len(at) > 0 && req.start == nil {
		atReq, err := parse(at[0])
		if err != nil {
			return err
		}
		req.start = atReq.start
	}

	dev := p.Device(ctx)

	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return nil
	}

	file := p.file
	if req.file != "" {
		file = req.file
	}

	start := 0.0
	seek := true
	switch {
	case p.paused:
		start = p.pauseTime
	case req.start != nil:
		start = *req.start
	default:
		seek = false
	}

	var list []string
	if req.useRaw {
		list = append(list, req.raw...)
		// 引数を直接指定した場合も再開位置は渡す
		if seek {
			list = append(list, "-s", args.Format(start))
		}
	} else {
		if file == "" {
			p.mu.Unlock()
			return ErrNoFile
		}
		list = append(list, file, "-s", args.Format(start))
	}
	list = append(list, "-o", dev)

	stderr := process.NewLineWriter(p.logStderr)
	if _, err := p.madplay.Start(ctx, process.Command{Name: playerBinary, Args: list, Stderr: stderr}); err != nil {
		p.mu.Unlock()
		p.SetStatus(device.StatusError)
		return fmt.Errorf("madplay の起動に失敗: %w", err)
	}

	p.file = file
	p.playing = true
	p.paused = false
	p.pauseTime = 0
	p.elapsed.Start(start, p.EmitTime)
	p.SetStatus(device.StatusActive)
	p.mu.Unlock()

	p.Logger().Info().Strs("args", list).Msg("再生を開始しました")
	p.EmitName(event.Play)
	return nil
}

func (p *Player) logStderr(line string) {
	if strings.Contains(line, "No such file or directory") {
		p.Logger().Error().Str("stderr", line).Msg("再生するファイルが見つかりません")
		return
	}
	p.Logger().Debug().Str("stderr", line).Msg("madplay")
}

// handleExit は madplay の自然終了（曲の終わり）を処理する
func (p *Player) handleExit(st process.ExitStatus) {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.paused = false
	p.pauseTime = 0
	p.elapsed.Reset()
	p.SetStatus(device.StatusInactive)
	p.mu.Unlock()

	p.EmitExitError(playerBinary, st)
	p.EmitName(event.Ended)
}

// Pause は再生位置を記録して madplay を止める
// 再生中でない場合は何もしない
func (p *Player) Pause() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.paused = true
	p.pauseTime = p.elapsed.Stop()
	at := p.pauseTime
	p.SetStatus(device.StatusInactive)
	p.mu.Unlock()

	p.madplay.Stop()
	p.Logger().Info().Float64("at", at).Msg("一時停止しました")
	p.EmitName(event.Pause)
}

// Stop は再生を止め、再生位置を先頭に戻す
// 停止済みの場合は何もしない
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.playing && !p.paused {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.paused = false
	p.pauseTime = 0
	p.elapsed.Reset()
	p.SetStatus(device.StatusInactive)
	p.mu.Unlock()

	p.madplay.Stop()
	p.Logger().Info().Msg("再生を停止しました")
	p.EmitName(event.Stop)
}
