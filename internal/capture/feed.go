package capture

import (
	"io"
	"sync"
)

// Feed は連続したバイト列（マイク入力など）を複数の購読者に配る
type Feed struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// NewFeed は新しいFeedを作成する
func NewFeed() *Feed {
	return &Feed{subs: make(map[*subscription]struct{})}
}

type subscription struct {
	feed *Feed
	r    *io.PipeReader
	w    *io.PipeWriter
	ch   chan []byte
	once sync.Once
}

// Subscribe は新しい購読を開始する
// Feed がクローズ済みの場合は即座に EOF を返す Reader になる
func (f *Feed) Subscribe() io.ReadCloser {
	r, w := io.Pipe()
	sub := &subscription{feed: f, r: r, w: w, ch: make(chan []byte, 64)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = w.Close()
		return r
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go sub.pump()
	return sub
}

// pump はチャンネルに届いたチャンクをパイプへ書き込む
// 読み手が遅くても Push の呼び出し元をブロックしない
func (s *subscription) pump() {
	for chunk := range s.ch {
		if _, err := s.w.Write(chunk); err != nil {
			s.feed.remove(s)
			// チャンネルを空にして終了
			for range s.ch {
			}
			return
		}
	}
	_ = s.w.Close()
}

func (s *subscription) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *subscription) Close() error {
	s.feed.remove(s)
	return s.r.Close()
}

func (s *subscription) closeCh() {
	s.once.Do(func() { close(s.ch) })
}

func (f *Feed) remove(s *subscription) {
	f.mu.Lock()
	_, ok := f.subs[s]
	delete(f.subs, s)
	f.mu.Unlock()

	if ok {
		s.closeCh()
	}
}

// Push はチャンクを全購読者に届ける
// 購読者のバッファが溢れた場合、そのチャンクはその購読者には届かない
func (f *Feed) Push(chunk []byte) {
	data := make([]byte, len(chunk))
	copy(data, chunk)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	for sub := range f.subs {
		select {
		case sub.ch <- data:
		default:
		}
	}
}

// Write は io.Writer の実装で、Push と同じ動作をする
func (f *Feed) Write(p []byte) (int, error) {
	f.Push(p)
	return len(p), nil
}

// Subscribers は現在の購読者数を返す
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close は全購読者を EOF で終了させる
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[*subscription]struct{})
	f.mu.Unlock()

	for sub := range subs {
		sub.closeCh()
	}
}
