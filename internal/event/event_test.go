package event

import (
	"errors"
	"testing"
)

func TestEmitter_OnOrder(t *testing.T) {
	var e Emitter
	var got []int

	e.On(Data, func(Event) { got = append(got, 1) })
	e.On(Data, func(Event) { got = append(got, 2) })
	e.Emit(Event{Name: Data})

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Expected listeners in registration order, got %v", got)
	}
}

func TestEmitter_Once(t *testing.T) {
	var e Emitter
	count := 0
	e.Once(LastWord, func(Event) { count++ })

	e.Emit(Event{Name: LastWord})
	e.Emit(Event{Name: LastWord})

	if count != 1 {
		t.Errorf("Expected once listener to fire 1 time, fired %d", count)
	}
	if n := e.ListenerCount(LastWord); n != 0 {
		t.Errorf("Expected 0 listeners after once fired, got %d", n)
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	var e Emitter
	count := 0
	off := e.On(Ended, func(Event) { count++ })

	e.Emit(Event{Name: Ended})
	off()
	e.Emit(Event{Name: Ended})

	if count != 1 {
		t.Errorf("Expected 1 call, got %d", count)
	}
	// 二重解除は無害
	off()
}

func TestEmitter_NoListener(t *testing.T) {
	var e Emitter
	e.Emit(Event{Name: Error, Err: errors.New("nobody listens")})

	if e.ListenerCount(Error) != 0 {
		t.Error("Expected no listeners")
	}
}

func TestEmitter_ListenerMayRegisterDuringEmit(t *testing.T) {
	var e Emitter
	inner := 0
	e.On(Play, func(Event) {
		e.On(Play, func(Event) { inner++ })
	})

	e.Emit(Event{Name: Play})
	if inner != 0 {
		t.Errorf("listener registered during emit must not fire in the same emit")
	}

	e.Emit(Event{Name: Play})
	if inner != 1 {
		t.Errorf("Expected inner listener to fire once, got %d", inner)
	}
}

func TestEmitter_Payload(t *testing.T) {
	var e Emitter
	var got Event
	e.On(TimeUpdate, func(ev Event) { got = ev })

	e.Emit(Event{Name: TimeUpdate, Time: 1.5})
	if got.Time != 1.5 {
		t.Errorf("Expected time 1.5, got %v", got.Time)
	}
}
