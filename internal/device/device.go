// Package device は各デバイス（カメラ・マイク・スピーカー・プレイヤー）に共通の
// 状態とイベント配信を提供する
package device

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kikimimi/internal/event"
	"kikimimi/internal/process"
)

// Kind はデバイスの種類を表す
type Kind string

const (
	KindCamera     Kind = "camera"
	KindMicrophone Kind = "microphone"
	KindSpeaker    Kind = "speaker"
	KindPlayer     Kind = "player"
)

// Status はデバイスの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // 停止中
	StatusActive   Status = "active"   // 動作中
	StatusError    Status = "error"    // エラーが発生
)

// Deps はデバイスが依存する外部コンポーネント
// ゼロ値のフィールドは本番用の実装で補われる
type Deps struct {
	Spawner process.Spawner
	Metrics *process.Metrics
	Logger  *zerolog.Logger
	Clock   clockwork.Clock
}

// WithDefaults は未設定のフィールドを補った Deps を返す
func (d Deps) WithDefaults() Deps {
	if d.Spawner == nil {
		d.Spawner = process.NewExecSpawner()
	}
	if d.Logger == nil {
		d.Logger = &log.Logger
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return d
}

// Info はデバイスの概要
type Info struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
}

// Base はデバイス共通の実装を提供する
type Base struct {
	event.Emitter

	id     string
	kind   Kind
	deps   Deps
	logger zerolog.Logger

	statusMu sync.RWMutex
	status   Status
}

// NewBase は新しいBaseを作成する
func NewBase(kind Kind, deps Deps) *Base {
	deps = deps.WithDefaults()
	id := uuid.New().String()

	return &Base{
		id:     id,
		kind:   kind,
		deps:   deps,
		logger: deps.Logger.With().Str("device", string(kind)).Str("id", id).Logger(),
		status: StatusInactive,
	}
}

// ID はデバイスの一意識別子を返す
func (b *Base) ID() string {
	return b.id
}

// Kind はデバイスの種類を返す
func (b *Base) Kind() Kind {
	return b.kind
}

// Logger はデバイス用のロガーを返す
func (b *Base) Logger() *zerolog.Logger {
	return &b.logger
}

// Deps は依存コンポーネントを返す
func (b *Base) Deps() Deps {
	return b.deps
}

// Status は現在の状態を返す
func (b *Base) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.status
}

// SetStatus は状態を更新する
func (b *Base) SetStatus(status Status) {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	b.status = status
}

// Info はデバイスの概要を返す
func (b *Base) Info() Info {
	return Info{ID: b.id, Kind: b.kind, Status: b.Status()}
}

// NewSupervisor はこのデバイス用の Supervisor を作成する
func (b *Base) NewSupervisor(binary string) *process.Supervisor {
	logger := b.logger.With().Str("binary", binary).Logger()
	return process.NewSupervisor(b.deps.Spawner, b.deps.Metrics, logger)
}

// NewElapsed はこのデバイス用の Elapsed を作成する
func (b *Base) NewElapsed() *Elapsed {
	return NewElapsed(b.deps.Clock)
}

// EmitTime は timeupdate イベントを配信する
func (b *Base) EmitTime(t float64) {
	b.Emit(event.Event{Name: event.TimeUpdate, Time: t})
}

// EmitName はペイロードを持たないイベントを配信する
func (b *Base) EmitName(name string) {
	b.Emit(event.Event{Name: name})
}

// EmitExitError は異常終了を error イベントとして配信する
// リスナーが登録されていない場合は破棄する
func (b *Base) EmitExitError(binary string, st process.ExitStatus) {
	if st.Success() || b.ListenerCount(event.Error) == 0 {
		return
	}
	b.Emit(event.Event{Name: event.Error, Code: st.Code, Err: &ExitError{Binary: binary, Status: st}})
}
