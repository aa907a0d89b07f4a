package queue

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) = false, want true", i)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}
	for i := 0; i < 5; i++ {
		v, ok := q.Pop()
		if !ok || v != i {
			t.Errorf("Pop() = %d, %v, want %d, true", v, ok, i)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue = true, want false")
	}
}

func TestQueue_Close(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Close()

	if !q.Closed() {
		t.Error("Closed() = false, want true")
	}
	if q.Push("b") {
		t.Error("Push after Close = true, want false")
	}
	if v, ok := q.Pop(); !ok || v != "a" {
		t.Errorf("Pop() = %q, %v, want a, true", v, ok)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_WakeConsumer(t *testing.T) {
	q := New[int]()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(1)
	got := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for len(got) < n {
			v, ok := q.Pop()
			if !ok {
				select {
				case <-q.Wake():
				case <-time.After(2 * time.Second):
					return
				}
				continue
			}
			got = append(got, v)
		}
	}()

	for i := 0; i < n; i++ {
		q.Push(i)
	}
	wg.Wait()

	if len(got) != n {
		t.Fatalf("consumer got %d items, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("item %d = %d, want %d", i, v, i)
		}
	}
}
