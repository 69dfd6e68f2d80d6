package ring

import (
	"testing"
	"time"

	"github.com/relabs-tech/bci_runtime/internal/eeg"
)

func chunkWithTick(tick uint64) eeg.Chunk {
	c := eeg.NewChunk(2, 4)
	c.Tick = tick
	return c
}

func TestFIFOOrder(t *testing.T) {
	r := New(8)
	for i := uint64(1); i <= 5; i++ {
		if err := r.Push(chunkWithTick(i)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	for i := uint64(1); i <= 5; i++ {
		c, err := r.Pop()
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if c.Tick != i {
			t.Errorf("pop order: got tick %d, want %d", c.Tick, i)
		}
	}
}

func TestCountBounded(t *testing.T) {
	r := New(3)
	for i := uint64(0); i < 3; i++ {
		if err := r.Push(chunkWithTick(i)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if got := r.Count(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
}

func TestPushBlocksUntilPop(t *testing.T) {
	r := New(1)
	if err := r.Push(chunkWithTick(1)); err != nil {
		t.Fatalf("push: %v", err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- r.Push(chunkWithTick(2))
	}()

	select {
	case <-pushed:
		t.Fatal("push returned while ring was full")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := r.Pop(); err != nil {
		t.Fatalf("pop: %v", err)
	}

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("blocked push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after pop")
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	r := New(2)

	popped := make(chan eeg.Chunk, 1)
	go func() {
		c, err := r.Pop()
		if err != nil {
			t.Errorf("pop: %v", err)
		}
		popped <- c
	}()

	select {
	case <-popped:
		t.Fatal("pop returned from an empty ring")
	case <-time.After(50 * time.Millisecond):
	}

	if err := r.Push(chunkWithTick(7)); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case c := <-popped:
		if c.Tick != 7 {
			t.Errorf("tick = %d, want 7", c.Tick)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock after push")
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	r := New(1)
	if err := r.Push(chunkWithTick(1)); err != nil {
		t.Fatalf("push: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Push(chunkWithTick(2)) }() // blocks: full

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Errorf("blocked producer got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not release the blocked producer")
	}
}

func TestCloseReleasesBlockedConsumer(t *testing.T) {
	r := New(2)

	done := make(chan error, 1)
	go func() {
		_, err := r.Pop()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Errorf("blocked consumer got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not release the blocked consumer")
	}
}

func TestDrainAfterClose(t *testing.T) {
	r := New(4)
	for i := uint64(1); i <= 3; i++ {
		if err := r.Push(chunkWithTick(i)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	r.Close()

	if err := r.Push(chunkWithTick(9)); err != ErrClosed {
		t.Errorf("push after close = %v, want ErrClosed", err)
	}

	// items pushed before close remain drainable
	for i := uint64(1); i <= 3; i++ {
		c, err := r.TryPop()
		if err != nil {
			t.Fatalf("try_pop %d: %v", i, err)
		}
		if c.Tick != i {
			t.Errorf("drain order: got %d, want %d", c.Tick, i)
		}
	}
	if _, err := r.TryPop(); err != ErrClosed {
		t.Errorf("try_pop on drained closed ring = %v, want ErrClosed", err)
	}
}

func TestTryPopEmpty(t *testing.T) {
	r := New(2)
	if _, err := r.TryPop(); err != ErrEmpty {
		t.Errorf("try_pop on empty open ring = %v, want ErrEmpty", err)
	}
}

func TestDrainReturnsAll(t *testing.T) {
	r := New(8)
	for i := uint64(1); i <= 6; i++ {
		if err := r.Push(chunkWithTick(i)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	out := r.Drain()
	if len(out) != 6 {
		t.Fatalf("drained %d chunks, want 6", len(out))
	}
	for i, c := range out {
		if c.Tick != uint64(i+1) {
			t.Errorf("drain[%d].Tick = %d, want %d", i, c.Tick, i+1)
		}
	}
	if r.Count() != 0 {
		t.Errorf("count after drain = %d, want 0", r.Count())
	}
}
