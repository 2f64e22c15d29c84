package timecode

import (
	"errors"
	"math"
	"testing"
)

func TestToSeconds(t *testing.T) {
	testCases := []struct {
		in        string
		framerate float64
		want      float64
	}{
		{"0", 0, 0},
		{"90", 0, 90},
		{"12.5", 0, 12.5},
		{"1:30", 0, 90},
		{"01:02:03", 0, 3723},
		{"1:02:03.25", 0, 3723.25},
		{"10;12", 24, 10.5},
		{"1:10;12", 0, 70},
	}

	for _, tc := range testCases {
		got, err := ToSeconds(tc.in, tc.framerate)
		if err != nil {
			t.Errorf("ToSeconds(%q) failed: %v", tc.in, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("ToSeconds(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestToSeconds_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1:2:3:4", "1.2.3", "-5", "foo.wav"} {
		if _, err := ToSeconds(in, 0); !errors.Is(err, ErrInvalid) {
			t.Errorf("ToSeconds(%q): expected ErrInvalid, got %v", in, err)
		}
	}
}
