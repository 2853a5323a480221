package textinput

import (
	"errors"
	"sync"
	"testing"
)

func TestAsyncDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	async := NewAsync(InjectorFunc(func(text string) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, text)
		return nil
	}), nil)

	async.Inject("one")
	async.Inject("two")
	async.Close()

	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestAsyncSurvivesInjectorErrors(t *testing.T) {
	calls := 0
	async := NewAsync(InjectorFunc(func(string) error {
		calls++
		return errors.New("no focused window")
	}), nil)

	if err := async.Inject("text"); err != nil {
		t.Fatalf("expected fire-and-forget inject, got %v", err)
	}
	async.Inject("more")
	async.Close()

	if calls != 2 {
		t.Fatalf("expected both deliveries attempted, got %d", calls)
	}
}

func TestAsyncDropsWhenQueueIsFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	delivered := 0
	async := NewAsync(InjectorFunc(func(string) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		delivered++
		return nil
	}), nil)

	async.Inject("blocking")
	<-started
	for range asyncQueueSize + 5 {
		async.Inject("queued")
	}
	close(release)
	async.Close()

	if delivered != asyncQueueSize+1 {
		t.Fatalf("expected %d deliveries, got %d", asyncQueueSize+1, delivered)
	}
}
