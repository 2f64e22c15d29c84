// Package timecode は "hh:mm:ss" 形式などの時刻表記を秒に変換する
package timecode

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalid は解釈できない時刻表記を表す
var ErrInvalid = errors.New("無効なタイムコードです (hh:mm:ss, ssss, ssss.dddd)")

var pattern = regexp.MustCompile(`^([0-9]+:){0,2}[0-9]+([.;][0-9]+)?$`)

// Valid は時刻表記として受け付けられるか判定する
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// ToSeconds は時刻表記を秒に変換する
// ";" 区切りのフレーム指定は framerate が正の場合のみ秒に加算される
func ToSeconds(s string, framerate float64) (float64, error) {
	s = strings.TrimSpace(s)
	if !Valid(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	parts := strings.Split(s, ":")
	last := len(parts) - 1

	var frameTime float64
	if whole, frames, ok := strings.Cut(parts[last], ";"); ok {
		if framerate > 0 {
			n, _ := strconv.ParseFloat(frames, 64)
			frameTime = n / framerate
		}
		parts[last] = whole
	}

	var total float64
	for i, p := range parts {
		var v float64
		var err error
		if i == last {
			v, err = strconv.ParseFloat(p, 64)
		} else {
			var n int
			n, err = strconv.Atoi(p)
			v = float64(n)
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		total = total*60 + v
	}

	return total + frameTime, nil
}
