package rpc

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStartDuplicateRequest(t *testing.T) {
	tr := NewTracker[uint32, []byte]()

	if _, err := tr.Start(1); err != nil {
		t.Fatalf("Start(1) error = %v", err)
	}
	if _, err := tr.Start(1); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("Start(1) again = %v, want ErrDuplicateRequest", err)
	}
}

func TestResolvePending(t *testing.T) {
	tr := NewTracker[uint32, string]()

	ch, err := tr.Start(1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !tr.Resolve(1, "result") {
		t.Fatal("Resolve() = false, want true")
	}

	res := <-ch
	if res.Err != nil {
		t.Fatalf("result error = %v", res.Err)
	}
	if res.Value != "result" {
		t.Errorf("result value = %q, want %q", res.Value, "result")
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after resolve, want 0", tr.Len())
	}
}

func TestResolveUnsolicited(t *testing.T) {
	tr := NewTracker[uint32, string]()

	if tr.Resolve(99, "nobody waiting") {
		t.Error("Resolve() of unknown key = true, want false")
	}
}

func TestFailPending(t *testing.T) {
	tr := NewTracker[uint32, string]()

	ch, err := tr.Start(1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	wantErr := errors.New("device unreachable")
	if !tr.Fail(1, wantErr) {
		t.Fatal("Fail() = false, want true")
	}

	res := <-ch
	if !errors.Is(res.Err, wantErr) {
		t.Errorf("result error = %v, want %v", res.Err, wantErr)
	}
}

func TestPopRemovesWithoutDelivery(t *testing.T) {
	tr := NewTracker[uint32, string]()

	ch, err := tr.Start(1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tr.Pop(1)

	// A later response reusing the id must not reach the old waiter.
	if tr.Resolve(1, "stale") {
		t.Error("Resolve() after Pop = true, want false")
	}

	select {
	case res := <-ch:
		t.Errorf("unexpected delivery after Pop: %+v", res)
	case <-time.After(20 * time.Millisecond):
	}

	// The id is reusable after Pop.
	if _, err := tr.Start(1); err != nil {
		t.Errorf("Start() after Pop error = %v", err)
	}
}

func TestPopUnknownKey(t *testing.T) {
	tr := NewTracker[uint32, string]()
	tr.Pop(42) // must not panic
}

func TestFailAll(t *testing.T) {
	tr := NewTracker[uint32, string]()

	ch1, _ := tr.Start(1)
	ch2, _ := tr.Start(2)

	wantErr := errors.New("connection lost")
	tr.FailAll(wantErr)

	for _, ch := range []<-chan Result[string]{ch1, ch2} {
		res := <-ch
		if !errors.Is(res.Err, wantErr) {
			t.Errorf("result error = %v, want %v", res.Err, wantErr)
		}
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after FailAll, want 0", tr.Len())
	}
}

func TestCloseRejectsNewRequests(t *testing.T) {
	tr := NewTracker[uint32, string]()

	ch, _ := tr.Start(1)
	tr.Close()
	tr.Close() // idempotent

	res := <-ch
	if !errors.Is(res.Err, ErrClosed) {
		t.Errorf("result error = %v, want ErrClosed", res.Err)
	}

	if _, err := tr.Start(2); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
}

func TestConcurrentRequests(t *testing.T) {
	tr := NewTracker[int, int]()

	const n = 50
	var wg sync.WaitGroup
	results := make([]int, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := tr.Start(i)
			if err != nil {
				t.Errorf("Start(%d) error = %v", i, err)
				return
			}
			res := <-ch
			results[i] = res.Value
		}()
	}

	// Resolve in a separate goroutine; retry until each waiter registered.
	var rwg sync.WaitGroup
	for i := range n {
		rwg.Add(1)
		go func() {
			defer rwg.Done()
			for !tr.Resolve(i, i*10) {
				time.Sleep(time.Millisecond)
			}
		}()
	}

	rwg.Wait()
	wg.Wait()

	for i := range n {
		if results[i] != i*10 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], i*10)
		}
	}
}
