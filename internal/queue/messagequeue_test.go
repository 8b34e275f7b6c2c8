package queue

import (
	"sync"
	"testing"
	"time"
)

func TestCoalescingKeepsOneEntry(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		q.Put(Item{IsTile: true, TileKey: "0_256_256_0_0_3840_3840", Payload: []byte("tile")})
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after coalescing", q.Len())
	}
}

func TestCoalescingPreservesDistinctKeys(t *testing.T) {
	q := New()
	q.Put(Item{IsTile: true, TileKey: "a", Payload: []byte("1")})
	q.Put(Item{IsTile: true, TileKey: "b", Payload: []byte("2")})
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}

func TestGetBlocksThenUnblocks(t *testing.T) {
	q := New()
	done := make(chan Item, 1)
	go func() {
		done <- q.Get()
	}()

	select {
	case <-done:
		t.Fatal("Get returned before any Put")
	case <-time.After(20 * time.Millisecond):
	}

	q.Put(Item{Payload: []byte("hello")})

	select {
	case item := <-done:
		if string(item.Payload) != "hello" {
			t.Fatalf("payload = %q", item.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("Get never returned after Put")
	}
}

func TestCloseUnblocksGetWithEOF(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	var got Item
	wg.Add(1)
	go func() {
		defer wg.Done()
		got = q.Get()
	}()

	q.Close()
	wg.Wait()

	if string(got.Payload) != "eof" {
		t.Fatalf("got = %+v, want EOF", got)
	}
}

func TestPutAfterCloseIsDropped(t *testing.T) {
	q := New()
	q.Close()
	q.Put(Item{Payload: []byte("ignored")})
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func TestCancelTilesDropsOnlyThatSession(t *testing.T) {
	q := New()
	q.Put(Item{IsTile: true, TileKey: "a", SessionID: "s1"})
	q.Put(Item{IsTile: true, TileKey: "b", SessionID: "s2"})
	q.CancelTiles("s1")
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	remaining := q.Get()
	if remaining.SessionID != "s2" {
		t.Fatalf("remaining session = %q, want s2", remaining.SessionID)
	}
}
