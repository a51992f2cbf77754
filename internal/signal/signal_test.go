package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForState(t *testing.T, ch <-chan State, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %+v", want)
		}
	}
}

func TestStaticPublishesTransitions(t *testing.T) {
	src := NewStatic(State{Online: false, Connection: ConnectionUnknown})

	ch, unsubscribe := src.Subscribe()
	defer unsubscribe()

	next := State{Online: true, Connection: ConnectionWifi, Foreground: true}
	src.Set(next)

	got := <-ch
	if got != next {
		t.Errorf("received %+v, want %+v", got, next)
	}
	if src.Current() != next {
		t.Errorf("Current() = %+v, want %+v", src.Current(), next)
	}
}

func TestStaticSuppressesNoopTransitions(t *testing.T) {
	initial := State{Online: true, Connection: ConnectionWifi}
	src := NewStatic(initial)

	ch, unsubscribe := src.Subscribe()
	defer unsubscribe()

	src.Set(initial)
	select {
	case got := <-ch:
		t.Errorf("unexpected notification for unchanged state: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	src := NewStatic(DefaultState())
	ch, unsubscribe := src.Subscribe()

	unsubscribe()
	// Safe to call twice.
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// A publish after unsubscribe must not panic.
	src.Set(State{Online: false})
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	src := NewStatic(State{Online: false})
	ch, unsubscribe := src.Subscribe()
	defer unsubscribe()

	// Overflow the buffer without draining. Publisher must not block.
	for i := 0; i < 20; i++ {
		src.Set(State{Online: i%2 == 0, Connection: ConnectionUnknown})
	}

	// The most recent state must still be observable via Current.
	want := src.Current()
	var last State
	for {
		select {
		case s := <-ch:
			last = s
		default:
			if last != want {
				t.Errorf("last delivered state %+v, want %+v", last, want)
			}
			return
		}
	}
}

func TestFileWatcherMissingFileDefaults(t *testing.T) {
	w := NewFileWatcher(filepath.Join(t.TempDir(), "state.yaml"), 10*time.Millisecond)

	got := w.Current()
	if !got.Online || got.Connection != ConnectionUnknown {
		t.Errorf("missing file should yield default state, got %+v", got)
	}
}

func TestFileWatcherCorruptFileDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	if err := os.WriteFile(path, []byte("{{{not yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	w := NewFileWatcher(path, 10*time.Millisecond)
	got := w.Current()
	if !got.Online || got.Connection != ConnectionUnknown {
		t.Errorf("corrupt file should yield default state, got %+v", got)
	}
}

func TestFileWatcherObservesTransitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	if err := os.WriteFile(path, []byte("online: false\nconnection: unknown\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w := NewFileWatcher(path, 10*time.Millisecond)
	if w.Current().Online {
		t.Fatal("initial state should be offline")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	ch, unsubscribe := w.Subscribe()
	defer unsubscribe()

	if err := os.WriteFile(path, []byte("online: true\nconnection: wifi\nforeground: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	waitForState(t, ch, State{Online: true, Connection: ConnectionWifi, Foreground: true})
}

func TestFileWatcherFileDeletionDegrades(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	if err := os.WriteFile(path, []byte("online: false\nlow_memory: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w := NewFileWatcher(path, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	ch, unsubscribe := w.Subscribe()
	defer unsubscribe()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	waitForState(t, ch, DefaultState())
}
