package event

import (
	"testing"
	"time"

	"problemwatch/internal/diag"
)

func TestRegistry_ChangeDelivery(t *testing.T) {
	r := NewRegistry()

	var got []ChangeEvent
	r.OnChange(func(ev ChangeEvent) { got = append(got, ev) })

	ev := ChangeEvent{
		FilePath: "/a.go",
		Problems: []diag.Problem{{Message: "m", FilePath: "/a.go"}},
	}
	r.EmitChange(ev)

	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].FilePath != "/a.go" || len(got[0].Problems) != 1 {
		t.Errorf("unexpected event: %+v", got[0])
	}
	if r.Delivered() != 1 {
		t.Errorf("delivered count: got %d, want 1", r.Delivered())
	}
}

func TestRegistry_MultipleListeners(t *testing.T) {
	r := NewRegistry()

	count := 0
	r.OnChange(func(ChangeEvent) { count++ })
	r.OnChange(func(ChangeEvent) { count++ })
	r.OnRefresh(func(RefreshEvent) { count += 10 })

	r.EmitChange(ChangeEvent{FilePath: "/a.go"})
	if count != 2 {
		t.Errorf("change emit should reach only change listeners, got %d", count)
	}

	r.EmitRefresh(RefreshEvent{Timestamp: time.Now()})
	if count != 12 {
		t.Errorf("refresh emit should reach only refresh listeners, got %d", count)
	}
}

func TestRegistry_CancelIsIdempotent(t *testing.T) {
	r := NewRegistry()

	count := 0
	sub := r.OnChange(func(ChangeEvent) { count++ })

	sub.Cancel()
	sub.Cancel()

	r.EmitChange(ChangeEvent{FilePath: "/a.go"})
	if count != 0 {
		t.Errorf("cancelled listener should not fire, got %d", count)
	}
}

func TestRegistry_PanicRecovered(t *testing.T) {
	r := NewRegistry()

	called := false
	r.OnChange(func(ChangeEvent) { panic("listener bug") })
	r.OnChange(func(ChangeEvent) { called = true })

	r.EmitChange(ChangeEvent{FilePath: "/a.go"})

	if !called {
		t.Error("a panicking listener must not block the others")
	}
	if r.Panics() != 1 {
		t.Errorf("panic count: got %d, want 1", r.Panics())
	}
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry()

	count := 0
	r.OnChange(func(ChangeEvent) { count++ })
	r.Close()

	r.EmitChange(ChangeEvent{FilePath: "/a.go"})
	if count != 0 {
		t.Errorf("closed registry should drop all listeners, got %d", count)
	}

	sub := r.OnChange(func(ChangeEvent) { count++ })
	r.EmitChange(ChangeEvent{FilePath: "/a.go"})
	if count != 0 {
		t.Errorf("subscribing after close should be inert, got %d", count)
	}
	sub.Cancel() // must not panic
}

func TestRegistry_NilHandler(t *testing.T) {
	r := NewRegistry()
	sub := r.OnChange(nil)
	if sub == nil {
		t.Fatal("nil handler should yield an inert subscription, not nil")
	}
	sub.Cancel()
	r.EmitChange(ChangeEvent{FilePath: "/a.go"})
}
