package device

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TickInterval は timeupdate を通知する間隔
const TickInterval = 100 * time.Millisecond

// Elapsed は再生・録音・発話の経過時間を追跡する
// 動作中はティッカーが一定間隔でコールバックを呼ぶ
type Elapsed struct {
	clock clockwork.Clock

	mu      sync.Mutex
	start   time.Time
	offset  float64
	current float64
	running bool
	stopCh  chan struct{}
}

// NewElapsed は新しいElapsedを作成する
func NewElapsed(clock clockwork.Clock) *Elapsed {
	return &Elapsed{clock: clock}
}

// Start は offset 秒から計測を開始する
// 既に動作中の場合は何もしない
func (e *Elapsed) Start(offset float64, onTick func(float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.start = e.clock.Now()
	e.offset = offset
	e.current = offset
	e.running = true
	e.stopCh = make(chan struct{})

	ticker := e.clock.NewTicker(TickInterval)
	go e.tick(ticker, e.stopCh, onTick)
}

func (e *Elapsed) tick(ticker clockwork.Ticker, stopCh chan struct{}, onTick func(float64)) {
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			select {
			case <-stopCh:
				return
			default:
			}
			if onTick != nil {
				onTick(e.Current())
			}
		}
	}
}

// Stop は計測を止め、その時点の経過時間を返す
// ティッカーの完了は待たないため、デバイスのロック中に呼んでもよい
func (e *Elapsed) Stop() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.current = e.elapsedLocked()
		e.running = false
		close(e.stopCh)
	}
	return round(e.current)
}

// Reset は計測を止めて経過時間を0に戻す
func (e *Elapsed) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.running = false
		close(e.stopCh)
	}
	e.current = 0
}

// Current は現在の経過時間（秒、ミリ秒単位で丸め）を返す
func (e *Elapsed) Current() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return round(e.elapsedLocked())
	}
	return round(e.current)
}

// Running は計測中かを返す
func (e *Elapsed) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Elapsed) elapsedLocked() float64 {
	return e.offset + e.clock.Since(e.start).Seconds()
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
