// Package capture はプロセスの出力をキャプチャ結果として呼び出し元に渡す
package capture

import (
	"context"
	"io"
	"sync"
)

// Shot は1回だけデータを届けるキャプチャ結果
//
// 作成直後はデータを持たず、Resolve で1つのチャンクが届いた後に終端となる。
// チャンネル・io.Reader のどちらからでも読み出せる。
type Shot struct {
	ch   chan []byte
	once sync.Once

	mu   sync.Mutex
	data []byte
	read int
	err  error
	done chan struct{}
}

// NewShot は新しいShotを作成する
func NewShot() *Shot {
	return &Shot{
		ch:   make(chan []byte, 1),
		done: make(chan struct{}),
	}
}

// Resolve はデータを1つ届けて終端にする
// 2回目以降の呼び出しは無視される
func (s *Shot) Resolve(data []byte) {
	s.settle(data, nil)
}

// Fail はデータを届けずにエラーで終端にする
func (s *Shot) Fail(err error) {
	s.settle(nil, err)
}

func (s *Shot) settle(data []byte, err error) {
	s.once.Do(func() {
		var chunk []byte
		if data != nil {
			chunk = make([]byte, len(data))
			copy(chunk, data)
		}

		s.mu.Lock()
		s.data = chunk
		s.err = err
		s.mu.Unlock()

		if err == nil {
			s.ch <- chunk
		}
		close(s.ch)
		close(s.done)
	})
}

// C はデータを1つ受け取った後にクローズされるチャンネルを返す
func (s *Shot) C() <-chan []byte {
	return s.ch
}

// Done は終端に達したときにクローズされるチャンネルを返す
func (s *Shot) Done() <-chan struct{} {
	return s.done
}

// Err は終端の原因となったエラーを返す
func (s *Shot) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Bytes はデータが届くまで待って返す
func (s *Shot) Bytes(ctx context.Context) ([]byte, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.err
}

// Read は io.Reader の実装
// データが届くまでブロックし、読み終えた後は io.EOF を返す
func (s *Shot) Read(p []byte) (int, error) {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return 0, s.err
	}
	if s.read >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.read:])
	s.read += n
	return n, nil
}

// WriteTo は io.WriterTo の実装
func (s *Shot) WriteTo(w io.Writer) (int64, error) {
	<-s.done

	s.mu.Lock()
	data := s.data[min(s.read, len(s.data)):]
	s.read = len(s.data)
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}
