package args

import (
	"reflect"
	"testing"
)

func TestBuild(t *testing.T) {
	testCases := []struct {
		name    string
		input   any
		subject string
		want    []string
		wantOK  bool
	}{
		{"文字列スカラー", "  hello ", "phrase", []string{"hello"}, true},
		{"数値スカラー", 1, "phrase", []string{"1"}, true},
		{"小数スカラー", 1.5, "", []string{"1.5"}, true},
		{"文字列シーケンス", []string{"foo.mp3", "-a", "10"}, "file", []string{"foo.mp3", "-a", "10"}, true},
		{"混在シーケンス", []any{"Hello!", "-a", 10, "-p", 50}, "phrase", []string{"Hello!", "-a", "10", "-p", "50"}, true},
		{
			"マップ（挿入順を保持）",
			Options{{"phrase", " Hello! "}, {"a", 10}, {"p", 50}},
			"phrase",
			[]string{"Hello!", "-a", "10", "-p", "50"},
			true,
		},
		{
			"マップ（長いキーと明示フラグ）",
			Options{{"file", "foo.mp3"}, {"amplify", 2}, {"-r", 1}},
			"file",
			[]string{"foo.mp3", "--amplify", "2", "-r", "1"},
			true,
		},
		{"主題キーの無いマップ", Options{{"a", 10}}, "phrase", nil, false},
		{"主題キー不要のマップ", Options{{"c", 1}, {"f", "cd"}}, "", []string{"-c", "1", "-f", "cd"}, true},
		{"nil", nil, "phrase", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Build(tc.input, tc.subject)
			if ok != tc.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tc.wantOK)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuild_SequenceIsCopied(t *testing.T) {
	in := []string{"a", "b"}
	out, _ := Build(in, "")
	out[0] = "z"
	if in[0] != "a" {
		t.Error("入力のスライスが変更されました")
	}
}

func TestWithDefaults(t *testing.T) {
	defaults := Options{{"-s", 130}}

	got := WithDefaults([]string{"hello"}, defaults)
	if want := []string{"hello", "-s", "130"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}

	got = WithDefaults([]string{"hello", "-s", "90"}, defaults)
	if want := []string{"hello", "-s", "90"}; !reflect.DeepEqual(got, want) {
		t.Errorf("既存フラグが上書きされました: got %q", got)
	}
}

func TestFlag(t *testing.T) {
	for key, want := range map[string]string{
		"a":        "-a",
		"stdout":   "--stdout",
		"-s":       "-s",
		"--stdout": "--stdout",
	} {
		if got := Flag(key); got != want {
			t.Errorf("Flag(%q): got %q, want %q", key, got, want)
		}
	}
}

func TestIsEmpty(t *testing.T) {
	if !IsEmpty(nil) || !IsEmpty([]string{""}) {
		t.Error("Expected nil and blank lists to be empty")
	}
	if IsEmpty([]string{"", "-f"}) {
		t.Error("Expected list with a token not to be empty")
	}
}
