package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Command は起動する外部コマンドと入出力の接続先
type Command struct {
	Name string
	Args []string

	Stdin  io.Reader // nil の場合は入力なし
	Stdout io.Writer // nil の場合は破棄
	Stderr io.Writer // nil の場合は破棄
}

// String はログ出力用の表記を返す
func (c Command) String() string {
	return fmt.Sprintf("%s %q", c.Name, c.Args)
}

// ExitStatus はプロセスの終了状態
type ExitStatus struct {
	Code int   // 終了コード（シグナルで終了した場合は -1）
	Err  error // 終了コード以外の待機エラー
}

// Success は正常終了したかを返す
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Err == nil
}

// Signaled はシグナルによって終了したかを返す
func (s ExitStatus) Signaled() bool {
	return s.Code < 0
}

// Process は起動済みの子プロセス
type Process interface {
	// Pid はプロセスIDを返す
	Pid() int

	// Signal はプロセスにシグナルを送る
	Signal(sig os.Signal) error

	// Wait はプロセスの終了を待つ
	// 複数回・複数ゴルーチンから呼び出しても同じ結果を返す
	Wait() ExitStatus
}

// Spawner は子プロセスを起動する
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

// ExecSpawner は os/exec を使う本番用の Spawner
type ExecSpawner struct{}

// NewExecSpawner は新しいExecSpawnerを作成する
func NewExecSpawner() Spawner {
	return ExecSpawner{}
}

// Spawn はコマンドを起動する
// 標準出力・標準エラーのコピーは os/exec に任せ、Wait はコピー完了まで待つ
func (ExecSpawner) Spawn(ctx context.Context, c Command) (Process, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s の起動に失敗: %w", c.Name, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	done   chan struct{}
	status ExitStatus
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Wait() ExitStatus {
	<-p.done
	return p.status
}

func (p *execProcess) wait() {
	defer close(p.done)
	p.status = statusFromError(p.cmd.Wait(), p.cmd.ProcessState)
}

func statusFromError(err error, state *os.ProcessState) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExitStatus{Code: exitErr.ExitCode()}
	}

	// I/Oコピー中のエラーなど
	code := -1
	if state != nil {
		code = state.ExitCode()
	}
	return ExitStatus{Code: code, Err: err}
}

// LineWriter は書き込まれたデータを行単位でコールバックに渡す io.Writer
// 空行は通知しない
type LineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(line string)
}

// NewLineWriter は新しいLineWriterを作成する
func NewLineWriter(fn func(line string)) *LineWriter {
	return &LineWriter{fn: fn}
}

// Write は io.Writer の実装
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf = append(w.buf, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	w.mu.Unlock()

	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			w.fn(line)
		}
	}
	return len(p), nil
}

// Flush は改行で終わっていない残りのデータを通知する
func (w *LineWriter) Flush() {
	w.mu.Lock()
	line := string(w.buf)
	w.buf = nil
	w.mu.Unlock()

	if line = strings.TrimSpace(line); line != "" {
		w.fn(line)
	}
}

