package session

import (
	"errors"
	"testing"

	"github.com/arcline-ai/voicebridge/pkg/realtime"
)

func TestDispatcher(t *testing.T) {
	t.Run("handlers run in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int
		d.Register("x", func(string, *realtime.Event) error {
			order = append(order, 1)
			return nil
		})
		d.Register("x", func(string, *realtime.Event) error {
			order = append(order, 2)
			return nil
		})

		d.Dispatch("x", &realtime.Event{Type: "x"})
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("handler error does not stop delivery", func(t *testing.T) {
		d := NewDispatcher()
		var reached bool
		d.Register("x", func(string, *realtime.Event) error {
			return errors.New("boom")
		})
		d.Register("x", func(string, *realtime.Event) error {
			reached = true
			return nil
		})

		d.Dispatch("x", &realtime.Event{Type: "x"})
		if !reached {
			t.Error("second handler never ran")
		}
	})

	t.Run("global handlers see every event", func(t *testing.T) {
		d := NewDispatcher()
		var seen []string
		d.RegisterGlobal(func(event string, _ *realtime.Event) error {
			seen = append(seen, event)
			return nil
		})

		d.Dispatch("a", &realtime.Event{Type: "a"})
		d.Dispatch("b", &realtime.Event{Type: "b"})
		if len(seen) != 2 {
			t.Errorf("expected 2 events, got %v", seen)
		}
	})
}

func TestRouter(t *testing.T) {
	t.Run("dispatches internal and provider names", func(t *testing.T) {
		d := NewDispatcher()
		var got []string
		record := func(event string, _ *realtime.Event) error {
			got = append(got, event)
			return nil
		}
		d.Register(realtime.EventAudioDelta, record)
		d.Register(realtime.TypeAudioDelta, record)

		NewRouter(d).Route(&realtime.Event{Type: realtime.TypeAudioDelta})
		if len(got) != 2 {
			t.Fatalf("expected both names dispatched, got %v", got)
		}
		if got[0] != realtime.EventAudioDelta || got[1] != realtime.TypeAudioDelta {
			t.Errorf("unexpected dispatch order %v", got)
		}
	})

	t.Run("unmapped type dispatched once", func(t *testing.T) {
		d := NewDispatcher()
		count := 0
		d.Register("custom.event", func(string, *realtime.Event) error {
			count++
			return nil
		})

		NewRouter(d).Route(&realtime.Event{Type: "custom.event"})
		if count != 1 {
			t.Errorf("expected one dispatch, got %d", count)
		}
	})
}
