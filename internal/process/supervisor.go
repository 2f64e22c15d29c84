package process

import (
	"context"
	"errors"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// ErrAlreadyRunning は既にプロセスを所有している状態での起動要求を表す
var ErrAlreadyRunning = errors.New("プロセスは既に実行中です")

// ExitFunc は所有中のプロセスが自然終了したときに呼ばれる
type ExitFunc func(ExitStatus)

// Supervisor は子プロセスを最大1つ所有し、その生存を追跡する
type Supervisor struct {
	spawner Spawner
	metrics *Metrics
	logger  zerolog.Logger

	mu     sync.Mutex
	proc   Process
	binary string
	run    uint64
	onExit ExitFunc
}

// NewSupervisor は新しいSupervisorを作成する
func NewSupervisor(spawner Spawner, metrics *Metrics, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		spawner: spawner,
		metrics: metrics,
		logger:  logger,
	}
}

// OnExit は自然終了時のコールバックを設定する
func (s *Supervisor) OnExit(fn ExitFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = fn
}

// Start はプロセスを所有していない場合のみコマンドを起動する
func (s *Supervisor) Start(ctx context.Context, cmd Command) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return nil, ErrAlreadyRunning
	}

	p, err := s.spawner.Spawn(ctx, cmd)
	if err != nil {
		s.logger.Error().Err(err).Str("binary", cmd.Name).Msg("プロセスの起動に失敗")
		return nil, err
	}
	s.metrics.spawned(cmd.Name)

	s.proc = p
	s.binary = cmd.Name
	s.run++
	run := s.run

	s.logger.Debug().
		Str("binary", cmd.Name).
		Strs("args", cmd.Args).
		Int("pid", p.Pid()).
		Msg("プロセスを起動しました")

	go s.wait(p, cmd.Name, run)
	return p, nil
}

// wait はプロセスの終了を待ち、所有中であれば終了を通知する
func (s *Supervisor) wait(p Process, binary string, run uint64) {
	st := p.Wait()
	s.metrics.exited(binary, st)

	s.mu.Lock()
	owned := s.proc == p && s.run == run
	if owned {
		s.proc = nil
	}
	fn := s.onExit
	s.mu.Unlock()

	if !owned {
		// Stop による終了
		return
	}

	s.logger.Debug().Str("binary", binary).Int("code", st.Code).Msg("プロセスが終了しました")
	if fn != nil {
		fn(st)
	}
}

// Stop は所有中のプロセスに SIGTERM を送り、所有権を手放す
// プロセスを所有していない場合は false を返し、何もしない
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	p := s.proc
	binary := s.binary
	s.proc = nil
	s.mu.Unlock()

	if p == nil {
		return false
	}

	if err := p.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn().Err(err).Str("binary", binary).Msg("終了シグナルの送信に失敗")
	}
	return true
}

// Running はプロセスを所有しているかを返す
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Process は所有中のプロセスを返す
func (s *Supervisor) Process() (Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc, s.proc != nil
}
