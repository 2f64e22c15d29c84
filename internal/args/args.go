// Package args は柔軟な入力（スカラー・シーケンス・オプションマップ）を
// 外部コマンドに渡すフラットな引数リストへ変換する
package args

import (
	"fmt"
	"strconv"
	"strings"
)

// Option はオプション名と値の組
type Option struct {
	Key   string
	Value any
}

// Options は挿入順を保持するオプションマップ
type Options []Option

// Get はキーに対応する値を返す
func (o Options) Get(key string) (any, bool) {
	for _, opt := range o {
		if opt.Key == key {
			return opt.Value, true
		}
	}
	return nil, false
}

// Build は入力を引数リストに変換する
//
// subject はマップ入力で必須となる主題キー（"file" や "phrase"）で、
// 空文字の場合は必須キーなしとして扱う。マップに主題キーが無い場合は
// ok=false を返し、呼び出し側は何もしない。
func Build(input any, subject string) (list []string, ok bool) {
	switch v := input.(type) {
	case nil:
		return nil, true
	case Options:
		return FromOptions(v, subject)
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, Format(item))
		}
		return out, true
	case string:
		return []string{strings.TrimSpace(v)}, true
	default:
		return []string{Format(v)}, true
	}
}

// FromOptions はオプションマップを展開する
//   - 主題キーは値のみ
//   - "-" で始まるキーはそのまま
//   - 1文字のキーは "-k"
//   - それ以外は "--key"
func FromOptions(opts Options, subject string) ([]string, bool) {
	out := make([]string, 0, len(opts)*2)
	hasSubject := subject == ""

	for _, opt := range opts {
		if subject != "" && opt.Key == subject {
			hasSubject = true
			out = append(out, strings.TrimSpace(Format(opt.Value)))
			continue
		}
		out = append(out, Flag(opt.Key), Format(opt.Value))
	}

	if !hasSubject {
		return nil, false
	}
	return out, true
}

// Flag はオプション名をフラグ表記に変換する
func Flag(key string) string {
	switch {
	case strings.HasPrefix(key, "-"):
		return key
	case len(key) == 1:
		return "-" + key
	default:
		return "--" + key
	}
}

// WithDefaults は未指定のデフォルトフラグを末尾に追加する
func WithDefaults(list []string, defaults Options) []string {
	for _, opt := range defaults {
		flag := Flag(opt.Key)
		if !Contains(list, flag) {
			list = append(list, flag, Format(opt.Value))
		}
	}
	return list
}

// Contains は引数リストにトークンが含まれるか判定する
func Contains(list []string, token string) bool {
	for _, s := range list {
		if s == token {
			return true
		}
	}
	return false
}

// Format は値をコマンドライン用の文字列に変換する
func Format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// IsEmpty は引数リストが空か、空文字だけで構成されているかを判定する
func IsEmpty(list []string) bool {
	for _, s := range list {
		if s != "" {
			return false
		}
	}
	return true
}
