// Package alsa は aplay --list-devices の出力からサウンドカードを特定する
package alsa

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"kikimimi/internal/process"
)

// Card はサウンドカードとデバイスの番号
type Card struct {
	Card   int
	Device int
}

// DefaultCard はカードが検出できない場合に使う値
var DefaultCard = Card{Card: 0, Device: 0}

var (
	cardPattern   = regexp.MustCompile(`card\s(\d+):`)
	devicePattern = regexp.MustCompile(`device\s(\d+):`)
)

// PlugHW は aplay -D に渡すデバイス名を返す（例: plughw:1,0）
func (c Card) PlugHW() string {
	return fmt.Sprintf("plughw:%d,%d", c.Card, c.Device)
}

// DSP は madplay -o に渡す OSS デバイスパスを返す
// カード0は番号なしの /dev/dsp になる
func (c Card) DSP() string {
	if c.Card == 0 {
		return "/dev/dsp"
	}
	return fmt.Sprintf("/dev/dsp%d", c.Card)
}

// Parse は aplay --list-devices の出力から最初のカードを取り出す
// 1行目はヘッダーなので2行目を対象とする
func Parse(output string) (Card, error) {
	lines := strings.Split(output, "\n")
	if len(lines) < 2 {
		return DefaultCard, fmt.Errorf("カード情報が見つかりません")
	}
	line := lines[1]

	cm := cardPattern.FindStringSubmatch(line)
	if cm == nil {
		return DefaultCard, fmt.Errorf("カード番号の解析に失敗: %q", line)
	}
	card, _ := strconv.Atoi(cm[1])

	device := 0
	if dm := devicePattern.FindStringSubmatch(line); dm != nil {
		device, _ = strconv.Atoi(dm[1])
	}

	return Card{Card: card, Device: device}, nil
}

// Detect は aplay を実行してカードを検出する
// 失敗した場合も DefaultCard を返す
func Detect(ctx context.Context, spawner process.Spawner) (Card, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	p, err := spawner.Spawn(ctx, process.Command{
		Name:   "aplay",
		Args:   []string{"--list-devices"},
		Stdout: &stdout,
	})
	if err != nil {
		return DefaultCard, fmt.Errorf("aplay --list-devices の実行に失敗: %w", err)
	}
	if st := p.Wait(); !st.Success() {
		return DefaultCard, fmt.Errorf("aplay --list-devices が異常終了しました (code=%d)", st.Code)
	}
	return Parse(stdout.String())
}
