package alsa

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"kikimimi/internal/process"
)

const listDevices = `**** List of PLAYBACK Hardware Devices ****
card 1: Device [USB Audio Device], device 0: USB Audio [USB Audio]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
`

func TestParse(t *testing.T) {
	card, err := Parse(listDevices)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if card.Card != 1 || card.Device != 0 {
		t.Errorf("unexpected card: %+v", card)
	}
	if got := card.PlugHW(); got != "plughw:1,0" {
		t.Errorf("PlugHW: got %s", got)
	}
	if got := card.DSP(); got != "/dev/dsp1" {
		t.Errorf("DSP: got %s", got)
	}
}

func TestParse_NoCard(t *testing.T) {
	card, err := Parse("aplay: device_list:274: no soundcards found...")
	if err == nil {
		t.Error("Expected error for missing card")
	}
	if card != DefaultCard {
		t.Errorf("Expected default card, got %+v", card)
	}
	if got := DefaultCard.DSP(); got != "/dev/dsp" {
		t.Errorf("DSP for card 0: got %s", got)
	}
	if got := DefaultCard.PlugHW(); got != "plughw:0,0" {
		t.Errorf("PlugHW for card 0: got %s", got)
	}
}

func TestDetect(t *testing.T) {
	spawner := process.NewMockSpawner()
	spawner.SetOnSpawn(func(p *process.MockProcess) {
		_ = p.WriteStdout([]byte(listDevices))
		p.Exit(0)
	})

	card, err := Detect(context.Background(), spawner)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if card.PlugHW() != "plughw:1,0" {
		t.Errorf("unexpected card: %+v", card)
	}
	if call := spawner.LastCall(); call.Name != "aplay" || !reflect.DeepEqual(call.Args, []string{"--list-devices"}) {
		t.Errorf("unexpected call: %+v", call)
	}
}

func TestDetect_Failure(t *testing.T) {
	spawner := process.NewMockSpawner()
	spawner.SetFailNext(errors.New("aplay not found"))

	card, err := Detect(context.Background(), spawner)
	if err == nil {
		t.Error("Expected error")
	}
	if card != DefaultCard {
		t.Errorf("Expected DefaultCard on failure, got %+v", card)
	}

	spawner.SetOnSpawn(func(p *process.MockProcess) { p.Exit(1) })
	if card, err := Detect(context.Background(), spawner); err == nil || card != DefaultCard {
		t.Errorf("Expected DefaultCard and error on non-zero exit, got %+v, %v", card, err)
	}
}
