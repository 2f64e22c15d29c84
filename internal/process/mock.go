package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Call は MockSpawner に記録された起動要求
type Call struct {
	Name string
	Args []string
}

// MockSpawner はテスト用のSpawner実装
// 実際のプロセスは起動せず、起動要求を記録して MockProcess を返す
type MockSpawner struct {
	mu    sync.Mutex
	calls []Call
	procs []*MockProcess

	// テスト制御用
	failNext error
	onSpawn  func(*MockProcess)
}

// NewMockSpawner は新しいMockSpawnerを作成する
func NewMockSpawner() *MockSpawner {
	return &MockSpawner{}
}

// Spawn は起動要求を記録し MockProcess を返す
func (m *MockSpawner) Spawn(_ context.Context, cmd Command) (Process, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Name: cmd.Name, Args: append([]string(nil), cmd.Args...)})

	if err := m.failNext; err != nil {
		m.failNext = nil
		m.mu.Unlock()
		return nil, err
	}

	p := newMockProcess(len(m.procs)+1000, cmd)
	m.procs = append(m.procs, p)
	hook := m.onSpawn
	m.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return p, nil
}

// SetFailNext は次の起動要求を err で失敗させる
func (m *MockSpawner) SetFailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// SetOnSpawn は起動直後に呼ばれるフックを設定する
func (m *MockSpawner) SetOnSpawn(fn func(*MockProcess)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSpawn = fn
}

// Calls は記録された起動要求の一覧を返す
func (m *MockSpawner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount は起動要求の回数を返す
func (m *MockSpawner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall は最後の起動要求を返す
func (m *MockSpawner) LastCall() Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return Call{}
	}
	return m.calls[len(m.calls)-1]
}

// Processes は起動されたプロセスの一覧を返す
func (m *MockSpawner) Processes() []*MockProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockProcess(nil), m.procs...)
}

// LastProcess は最後に起動されたプロセスを返す
func (m *MockSpawner) LastProcess() *MockProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.procs) == 0 {
		return nil
	}
	return m.procs[len(m.procs)-1]
}

// MockProcess はテスト用のProcess実装
type MockProcess struct {
	pid int
	cmd Command

	mu            sync.Mutex
	signals       []os.Signal
	done          chan struct{}
	status        ExitStatus
	exited        bool
	ignoreSignals bool
}

func newMockProcess(pid int, cmd Command) *MockProcess {
	return &MockProcess{pid: pid, cmd: cmd, done: make(chan struct{})}
}

// Pid はプロセスIDを返す
func (p *MockProcess) Pid() int {
	return p.pid
}

// Command は起動時のコマンドを返す
func (p *MockProcess) Command() Command {
	return p.cmd
}

// Signal はシグナルを記録し、-1 の終了コードで終了させる
func (p *MockProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	ignore := p.ignoreSignals
	p.mu.Unlock()

	if !ignore {
		p.finish(ExitStatus{Code: -1})
	}
	return nil
}

// IgnoreSignals はシグナルを受けても終了しないようにする
func (p *MockProcess) IgnoreSignals() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignoreSignals = true
}

// Signals は受け取ったシグナルの一覧を返す
func (p *MockProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

// Wait は Exit か Signal で終了するまで待つ
func (p *MockProcess) Wait() ExitStatus {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Done は終了時にクローズされるチャンネルを返す
func (p *MockProcess) Done() <-chan struct{} {
	return p.done
}

// Exit は指定した終了コードでプロセスを終了させる
func (p *MockProcess) Exit(code int) {
	p.finish(ExitStatus{Code: code})
}

func (p *MockProcess) finish(st ExitStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.status = st
	close(p.done)
}

// WriteStdout はプロセスの標準出力としてデータを書き込む
func (p *MockProcess) WriteStdout(data []byte) error {
	if p.cmd.Stdout == nil {
		return fmt.Errorf("標準出力が接続されていません")
	}
	_, err := p.cmd.Stdout.Write(data)
	return err
}

// WriteStderr はプロセスの標準エラーとしてデータを書き込む
func (p *MockProcess) WriteStderr(data []byte) error {
	if p.cmd.Stderr == nil {
		return fmt.Errorf("標準エラーが接続されていません")
	}
	_, err := p.cmd.Stderr.Write(data)
	return err
}

// ReadStdin はプロセスの標準入力から最大 n バイト読み取る
func (p *MockProcess) ReadStdin(n int) ([]byte, error) {
	if p.cmd.Stdin == nil {
		return nil, io.EOF
	}
	buf := make([]byte, n)
	read, err := p.cmd.Stdin.Read(buf)
	return buf[:read], err
}
