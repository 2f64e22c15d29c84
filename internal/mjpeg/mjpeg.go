// Package mjpeg は MJPEG のバイト列を JPEG フレーム単位に分割する
package mjpeg

import (
	"bytes"
	"errors"
	"io"
)

var (
	soi = []byte{0xFF, 0xD8} // JPEGの開始マーカー
	eoi = []byte{0xFF, 0xD9} // JPEGの終了マーカー
)

// MaxFrameSize はフレーム待ちで保持するデータの上限
const MaxFrameSize = 8 * 1024 * 1024

// ErrFrameTooLarge は終了マーカーが見つからないままデータが上限を超えたことを表す
var ErrFrameTooLarge = errors.New("JPEGフレームが大きすぎます")

// Splitter は書き込まれたデータから完全なJPEGフレームを切り出す
// multipart の境界やヘッダは開始マーカーより前のゴミとして読み捨てる
type Splitter struct {
	buf     bytes.Buffer
	onFrame func([]byte)
}

// NewSplitter は新しいSplitterを作成する
// onFrame には呼び出しごとに新しく確保されたフレームが渡される
func NewSplitter(onFrame func([]byte)) *Splitter {
	return &Splitter{onFrame: onFrame}
}

// Write はデータを追加し、揃ったフレームを onFrame に渡す
func (s *Splitter) Write(p []byte) (int, error) {
	s.buf.Write(p)

	for {
		data := s.buf.Bytes()

		start := bytes.Index(data, soi)
		if start == -1 {
			// マーカーの片割れだけ残す
			if n := len(data); n > 0 && data[n-1] == 0xFF {
				s.reset(data[n-1:])
			} else {
				s.buf.Reset()
			}
			return len(p), nil
		}

		end := bytes.Index(data[start+len(soi):], eoi)
		if end == -1 {
			if start > 0 {
				s.reset(data[start:])
			}
			if s.buf.Len() > MaxFrameSize {
				s.buf.Reset()
				return len(p), ErrFrameTooLarge
			}
			return len(p), nil
		}

		end += start + len(soi) + len(eoi)
		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		s.reset(data[end:])

		if s.onFrame != nil {
			s.onFrame(frame)
		}
	}
}

// Pending は未完成フレームとして保持しているバイト数を返す
func (s *Splitter) Pending() int {
	return s.buf.Len()
}

func (s *Splitter) reset(remaining []byte) {
	rest := make([]byte, len(remaining))
	copy(rest, remaining)
	s.buf.Reset()
	s.buf.Write(rest)
}

// Copy は r を読み切るまでフレームを分割して onFrame に渡す
// r が io.EOF で終わった場合は nil を返す
func Copy(r io.Reader, onFrame func([]byte)) error {
	s := NewSplitter(onFrame)
	buffer := make([]byte, 64*1024)
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			if _, werr := s.Write(buffer[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
