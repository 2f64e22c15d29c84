// Package event はデバイスからの通知（イベント）の登録と配信を担う
package event

import "sync"

// イベント名
const (
	Data       = "data"
	Frame      = "frame"
	Ended      = "ended"
	Stop       = "stop"
	Pause      = "pause"
	Play       = "play"
	TimeUpdate = "timeupdate"
	Empty      = "empty"
	LastWord   = "lastword"
	Listen     = "listen"
	Say        = "say"
	Close      = "close"
	Error      = "error"
)

// Event はリスナーに渡される通知の内容
type Event struct {
	Name string  // イベント名
	Data []byte  // data/frame イベントのペイロード
	Time float64 // timeupdate の現在時刻（秒）
	Code int     // プロセスの終了コード
	Err  error   // error イベントの原因
}

// Handler はイベントを受け取るコールバック
type Handler func(Event)

type listener struct {
	id   uint64
	fn   Handler
	once bool
}

// Emitter はイベントリスナーを管理し、同期的に配信する
// ゼロ値のまま使用できる
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]listener
	nextID    uint64
}

// On はリスナーを登録し、登録解除用の関数を返す
func (e *Emitter) On(name string, fn Handler) func() {
	return e.add(name, fn, false)
}

// Once は一度だけ呼ばれるリスナーを登録する
func (e *Emitter) Once(name string, fn Handler) func() {
	return e.add(name, fn, true)
}

func (e *Emitter) add(name string, fn Handler, once bool) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[string][]listener)
	}
	e.nextID++
	id := e.nextID
	e.listeners[name] = append(e.listeners[name], listener{id: id, fn: fn, once: once})

	return func() { e.remove(name, id) }
}

func (e *Emitter) remove(name string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[name]
	for i, l := range ls {
		if l.id == id {
			e.listeners[name] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// ListenerCount は指定イベントのリスナー数を返す
func (e *Emitter) ListenerCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}

// Emit はイベントを登録順にリスナーへ配信する
// リスナーが登録されていない場合は何もしない
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	ls := e.listeners[ev.Name]
	if len(ls) == 0 {
		e.mu.Unlock()
		return
	}

	// 配信中の登録・解除に影響されないようコピーする
	snapshot := make([]listener, len(ls))
	copy(snapshot, ls)

	kept := ls[:0]
	for _, l := range ls {
		if !l.once {
			kept = append(kept, l)
		}
	}
	e.listeners[ev.Name] = kept
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(ev)
	}
}
