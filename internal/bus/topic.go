// Package bus carries the latest connectivity and transfer state from the
// components that own it to whoever is presenting it.
//
// Each Topic holds a single current value. Subscribers never see history:
// a slow reader skips straight to the newest value. Every topic has exactly
// one writer, claimed once by its owning component.
package bus

import (
	"errors"
	"fmt"
	"sync"
)

var ErrWriterClaimed = errors.New("topic writer already claimed")

type Topic[T any] struct {
	name    string
	mu      sync.Mutex
	value   T
	set     bool
	claimed bool
	subs    map[int]chan T
	nextSub int
}

func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{
		name: name,
		subs: make(map[int]chan T),
	}
}

func (t *Topic[T]) Name() string { return t.name }

// Writer hands out the only publishing handle for the topic.
func (t *Topic[T]) Writer() (*Writer[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.claimed {
		return nil, fmt.Errorf("%s: %w", t.name, ErrWriterClaimed)
	}
	t.claimed = true
	return &Writer[T]{topic: t}, nil
}

// Latest returns the current value and whether anything was published yet.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.set
}

// Subscribe returns a channel that always holds at most the newest value.
// The current value, if any, is delivered immediately. Call cancel to stop
// receiving; the channel is closed afterwards.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan T, 1)
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	if t.set {
		ch <- t.value
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (t *Topic[T]) publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.value = v
	t.set = true
	for _, ch := range t.subs {
		// drop the stale value so the send below never blocks
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

type Writer[T any] struct {
	topic *Topic[T]
}

func (w *Writer[T]) Publish(v T) {
	w.topic.publish(v)
}
