package speaker

import (
	"context"
	"io"
	"reflect"
	"syscall"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"kikimimi/internal/args"
	"kikimimi/internal/device"
	"kikimimi/internal/event"
	"kikimimi/internal/process"
)

const directDevice = "plughw:0,0"

func newTestSpeaker(opts Options) (*Speaker, *process.MockSpawner) {
	spawner := process.NewMockSpawner()
	logger := zerolog.Nop()
	return New(opts, device.Deps{
		Spawner: spawner,
		Logger:  &logger,
		Clock:   clockwork.NewFakeClock(),
	}), spawner
}

// listen はイベントをチャンネルに流す
func listen(s *Speaker, name string) <-chan event.Event {
	ch := make(chan event.Event, 16)
	s.On(name, func(ev event.Event) { ch <- ev })
	return ch
}

func waitEvent(t *testing.T, ch <-chan event.Event, name string) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", name)
		return event.Event{}
	}
}

func TestSay_SpawnsEspeakWithDefaultSpeed(t *testing.T) {
	s, spawner := newTestSpeaker(Options{Device: directDevice})

	if err := s.Say(context.Background(), "hello"); err != nil {
		t.Fatalf("Say failed: %v", err)
	}

	call := spawner.LastCall()
	if call.Name != "espeak" {
		t.Errorf("Expected espeak, got %s", call.Name)
	}
	if want := []string{"hello", "-s", "130"}; !reflect.DeepEqual(call.Args, want) {
		t.Errorf("args = %q, want %q", call.Args, want)
	}
	if !s.IsSpeaking() || s.State() != StateSpeaking {
		t.Errorf("Expected speaking state, got %s", s.State())
	}
}

func TestSay_QueuesWhileSpeaking(t *testing.T) {
	s, spawner := newTestSpeaker(Options{Device: directDevice})
	says := listen(s, event.Say)
	ended := listen(s, event.Ended)
	ctx := context.Background()

	_ = s.Say(ctx, "hello")
	waitEvent(t, says, event.Say)
	_ = s.Say(ctx, "world")

	if spawner.CallCount() != 1 {
		t.Fatalf("Expected queued phrase not to spawn, got %d calls", spawner.CallCount())
	}
	if q := s.Queue(); !reflect.DeepEqual(q, []any{"world"}) {
		t.Errorf("Queue() = %v", q)
	}

	spawner.LastProcess().Exit(0)
	waitEvent(t, ended, event.Ended)
	ev := waitEvent(t, says, event.Say)

	if string(ev.Data) != "world -s 130" {
		t.Errorf("Expected second say for world, got %q", ev.Data)
	}
	if spawner.CallCount() != 2 {
		t.Fatalf("Expected 2 calls, got %d", spawner.CallCount())
	}
	if want := []string{"world", "-s", "130"}; !reflect.DeepEqual(spawner.LastCall().Args, want) {
		t.Errorf("args = %q, want %q", spawner.LastCall().Args, want)
	}
	if len(s.Queue()) != 0 {
		t.Errorf("Expected empty queue, got %v", s.Queue())
	}
}

func TestSay_FIFOOrder(t *testing.T) {
	s, spawner := newTestSpeaker(Options{Device: directDevice})
	empty := listen(s, event.Empty)
	ctx := context.Background()

	// 起動と同時に終了させる
	spawner.SetOnSpawn(func(p *process.MockProcess) {
		go p.Exit(0)
	})

	s.mu.Lock()
	s.state = StateSpeaking
	s.mu.Unlock()
	for _, phrase := range []string{"one", "two", "three"} {
		_ = s.Say(ctx, phrase)
	}
	// 読み上げ中の状態から自然終了させてキューを流す
	s.finish(speechBinary, process.ExitStatus{})

	waitEvent(t, empty, event.Empty)

	var got []string
	for _, c := range spawner.Calls() {
		got = append(got, c.Args[0])
	}
	if want := []string{"one", "two", "three"}; !reflect.DeepEqual(got, want) {
		t.Errorf("spoken order = %v, want %v", got, want)
	}
	if s.IsSpeaking() {
		t.Error("Expected idle after queue drained")
	}
}

func TestSay_IgnoredInputs(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"nil", nil},
		{"blank", "   "},
		{"mapping without phrase", args.Options{{Key: "v", Value: "en"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, spawner := newTestSpeaker(Options{Device: directDevice})
			if err := s.Say(context.Background(), tt.input); err != nil {
				t.Fatalf("Say failed: %v", err)
			}
			if spawner.CallCount() != 0 || s.IsSpeaking() {
				t.Errorf("Expected no action, calls=%d speaking=%v", spawner.CallCount(), s.IsSpeaking())
			}
		})
	}
}

func TestSay_Mapping(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  []string
	}{
		{
			"phrase with voice",
			args.Options{{Key: "phrase", Value: " hi "}, {Key: "v", Value: "en"}},
			[]string{"hi", "-v", "en", "-s", "130"},
		},
		{
			"explicit speed kept",
			args.Options{{Key: "phrase", Value: "hi"}, {Key: "s", Value: 90}},
			[]string{"hi", "-s", "90"},
		},
		{
			"sequence",
			[]string{"hi", "-a", "50"},
			[]string{"hi", "-a", "50", "-s", "130"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, spawner := newTestSpeaker(Options{Device: directDevice})
			_ = s.Say(context.Background(), tt.input)
			if got := spawner.LastCall().Args; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("args = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSay_PipesIntoAplay(t *testing.T) {
	s, spawner := newTestSpeaker(Options{Device: "plughw:1,0"})
	ended := listen(s, event.Ended)

	if err := s.Say(context.Background(), "hello"); err != nil {
		t.Fatalf("Say failed: %v", err)
	}

	calls := spawner.Calls()
	if len(calls) != 2 {
		t.Fatalf("Expected aplay and espeak, got %+v", calls)
	}
	if calls[0].Name != "aplay" || !reflect.DeepEqual(calls[0].Args, []string{"-f", "cd", "-D", "plughw:1,0"}) {
		t.Errorf("unexpected aplay call: %+v", calls[0])
	}
	if calls[1].Name != "espeak" || !reflect.DeepEqual(calls[1].Args, []string{"hello", "-s", "130", "--stdout"}) {
		t.Errorf("unexpected espeak call: %+v", calls[1])
	}

	procs := spawner.Processes()
	aplay, espeak := procs[0], procs[1]

	go func() { _ = espeak.WriteStdout([]byte("wav")) }()
	got, err := aplay.ReadStdin(3)
	if err != nil || string(got) != "wav" {
		t.Fatalf("aplay stdin = %q, %v", got, err)
	}

	// espeak が終わると aplay の入力が閉じる
	espeak.Exit(0)
	deadline := time.After(2 * time.Second)
	for {
		if _, err := aplay.ReadStdin(1); err == io.EOF {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Expected aplay stdin to reach EOF")
		default:
		}
	}

	// パイプの終わりは aplay の終了
	select {
	case <-ended:
		t.Fatal("ended must wait for aplay")
	default:
	}
	aplay.Exit(0)
	waitEvent(t, ended, event.Ended)
}

func TestStop_Idempotent(t *testing.T) {
	s, spawner := newTestSpeaker(Options{Device: directDevice})
	stops := listen(s, event.Stop)
	ctx := context.Background()

	_ = s.Say(ctx, "hello")
	_ = s.Say(ctx, "queued")

	s.Stop()
	s.Stop()

	p := spawner.LastProcess()
	if sigs := p.Signals(); len(sigs) != 1 || sigs[0] != syscall.SIGTERM {
		t.Errorf("Expected exactly one SIGTERM, got %v", sigs)
	}
	waitEvent(t, stops, event.Stop)
	select {
	case <-stops:
		t.Error("Expected a single stop event")
	default:
	}

	if s.IsSpeaking() {
		t.Error("Expected idle after Stop")
	}
	if q := s.Queue(); !reflect.DeepEqual(q, []any{"queued"}) {
		t.Errorf("Expected queue to be kept, got %v", q)
	}
	s.ClearQueue()
	if len(s.Queue()) != 0 {
		t.Error("Expected ClearQueue to drop pending phrases")
	}
}

func TestLastWordOncePerSpeaker(t *testing.T) {
	s, spawner := newTestSpeaker(Options{Device: directDevice})
	lastWords := listen(s, event.LastWord)
	empty := listen(s, event.Empty)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = s.Say(ctx, "hello")
		spawner.LastProcess().Exit(0)
		waitEvent(t, empty, event.Empty)
	}

	if n := len(lastWords); n != 1 {
		t.Errorf("Expected 1 lastword event, got %d", n)
	}
}

func TestLastWordOnlyOnFirstDrain(t *testing.T) {
	s, spawner := newTestSpeaker(Options{Device: directDevice})
	empty := listen(s, event.Empty)
	ctx := context.Background()

	_ = s.Say(ctx, "first")
	spawner.LastProcess().Exit(0)
	waitEvent(t, empty, event.Empty)

	// 最初にキューが空になった時点で対象外になるため、後から登録しても通知されない
	lastWords := listen(s, event.LastWord)
	_ = s.Say(ctx, "second")
	spawner.LastProcess().Exit(0)
	waitEvent(t, empty, event.Empty)

	if n := len(lastWords); n != 0 {
		t.Errorf("Expected no lastword after the first drain, got %d", n)
	}
}

func TestExitErrorForwarded(t *testing.T) {
	s, spawner := newTestSpeaker(Options{Device: directDevice})
	errs := listen(s, event.Error)
	empty := listen(s, event.Empty)

	_ = s.Say(context.Background(), "hello")
	spawner.LastProcess().Exit(2)
	waitEvent(t, empty, event.Empty)

	ev := waitEvent(t, errs, event.Error)
	if ev.Code != 2 || ev.Err == nil {
		t.Errorf("unexpected error event: %+v", ev)
	}
}

func TestDevice_Detected(t *testing.T) {
	s, spawner := newTestSpeaker(Options{})
	spawner.SetOnSpawn(func(p *process.MockProcess) {
		if p.Command().Name == "aplay" && p.Command().Args[0] == "--list-devices" {
			_ = p.WriteStdout([]byte("**** List of PLAYBACK Hardware Devices ****\ncard 2: Headphones [bcm2835 Headphones], device 0: bcm2835 Headphones\n"))
			p.Exit(0)
		}
	})

	if got := s.Device(context.Background()); got != "plughw:2,0" {
		t.Errorf("Device() = %s, want plughw:2,0", got)
	}
	// 検出は1回だけ
	s.Device(context.Background())
	if spawner.CallCount() != 1 {
		t.Errorf("Expected a single detection, got %d calls", spawner.CallCount())
	}
}

func TestDevice_FallbackOnFailure(t *testing.T) {
	s, spawner := newTestSpeaker(Options{})
	spawner.SetOnSpawn(func(p *process.MockProcess) { p.Exit(1) })

	if got := s.Device(context.Background()); got != directDevice {
		t.Errorf("Device() = %s, want %s", got, directDevice)
	}
}

func TestStateString(t *testing.T) {
	if StateIdle.String() != "idle" || StateSpeaking.String() != "speaking" {
		t.Error("unexpected state names")
	}
}
