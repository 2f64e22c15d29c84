package device

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"kikimimi/internal/event"
	"kikimimi/internal/process"
)

func newTestBase(kind Kind) (*Base, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	logger := zerolog.Nop()
	return NewBase(kind, Deps{
		Spawner: process.NewMockSpawner(),
		Logger:  &logger,
		Clock:   clock,
	}), clock
}

func TestNewBase(t *testing.T) {
	a, _ := newTestBase(KindSpeaker)
	b, _ := newTestBase(KindSpeaker)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("Expected unique non-empty IDs, got %q and %q", a.ID(), b.ID())
	}
	if a.Kind() != KindSpeaker {
		t.Errorf("Expected kind %s, got %s", KindSpeaker, a.Kind())
	}
	if a.Status() != StatusInactive {
		t.Errorf("Expected initial status inactive, got %s", a.Status())
	}

	a.SetStatus(StatusActive)
	info := a.Info()
	if info.Status != StatusActive || info.ID != a.ID() {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestDeps_WithDefaults(t *testing.T) {
	d := Deps{}.WithDefaults()
	if d.Spawner == nil || d.Logger == nil || d.Clock == nil {
		t.Errorf("Expected all defaults to be filled: %+v", d)
	}
}

func TestBase_EmitExitError(t *testing.T) {
	b, _ := newTestBase(KindPlayer)

	// リスナーがいなければ何も起きない
	b.EmitExitError("madplay", process.ExitStatus{Code: 1})

	var got []event.Event
	b.On(event.Error, func(ev event.Event) { got = append(got, ev) })

	b.EmitExitError("madplay", process.ExitStatus{Code: 0})
	b.EmitExitError("madplay", process.ExitStatus{Code: 2})

	if len(got) != 1 {
		t.Fatalf("Expected 1 error event, got %d", len(got))
	}
	if got[0].Code != 2 || got[0].Err == nil {
		t.Errorf("unexpected event: %+v", got[0])
	}
}

func TestElapsed_StartStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewElapsed(clock)

	e.Start(0, nil)
	if !e.Running() {
		t.Fatal("Expected running after Start")
	}
	clock.Advance(1100 * time.Millisecond)

	if got := e.Stop(); got != 1.1 {
		t.Errorf("Expected 1.1 at stop, got %v", got)
	}
	clock.Advance(time.Second)
	if got := e.Current(); got != 1.1 {
		t.Errorf("Expected time frozen at 1.1, got %v", got)
	}

	e.Start(e.Current(), nil)
	clock.Advance(400 * time.Millisecond)
	if got := e.Current(); got != 1.5 {
		t.Errorf("Expected resume from offset to give 1.5, got %v", got)
	}

	e.Reset()
	if e.Current() != 0 || e.Running() {
		t.Errorf("Expected reset to zero, got %v running=%v", e.Current(), e.Running())
	}
}

func TestElapsed_Ticks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewElapsed(clock)

	var mu sync.Mutex
	var ticks []float64
	done := make(chan struct{}, 1)
	e.Start(0, func(v float64) {
		mu.Lock()
		ticks = append(ticks, v)
		mu.Unlock()
		done <- struct{}{}
	})
	defer e.Stop()

	clock.BlockUntil(1)
	clock.Advance(TickInterval)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected a tick")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 1 || ticks[0] != 0.1 {
		t.Errorf("Expected single tick at 0.1, got %v", ticks)
	}
}

func TestElapsed_StopWhenIdle(t *testing.T) {
	e := NewElapsed(clockwork.NewFakeClock())
	if got := e.Stop(); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}
