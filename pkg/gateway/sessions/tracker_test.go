package sessions

import (
	"context"
	"testing"
	"time"
)

func TestNewIDUnique(t *testing.T) {
	if NewID() == NewID() {
		t.Fatal("session IDs must be unique")
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	tr := NewTracker()
	unregister := tr.Register(NewID(), Handle{})
	if tr.Count() != 1 {
		t.Fatalf("count = %d", tr.Count())
	}
	unregister()
	unregister() // idempotent
	if tr.Count() != 0 {
		t.Fatalf("count after unregister = %d", tr.Count())
	}
}

func TestDuplicateIDReplacesPrevious(t *testing.T) {
	tr := NewTracker()
	id := NewID()

	var firstCanceled bool
	tr.Register(id, Handle{Cancel: func() { firstCanceled = true }})
	unregister := tr.Register(id, Handle{})

	if tr.Count() != 1 {
		t.Fatalf("count = %d", tr.Count())
	}
	if firstCanceled {
		t.Error("replacement must not cancel the old session, only unregister it")
	}
	unregister()
	if tr.Count() != 0 {
		t.Fatalf("count = %d", tr.Count())
	}
}

func TestCancelAll(t *testing.T) {
	tr := NewTracker()
	canceled := 0
	tr.Register(NewID(), Handle{Cancel: func() { canceled++ }})
	tr.Register(NewID(), Handle{Cancel: func() { canceled++ }})
	tr.Register(NewID(), Handle{}) // no cancel hook

	if n := tr.CancelAll(); n != 2 {
		t.Errorf("CancelAll = %d", n)
	}
	if canceled != 2 {
		t.Errorf("canceled = %d", canceled)
	}
}

func TestNotifyAll(t *testing.T) {
	tr := NewTracker()
	var got []string
	tr.Register(NewID(), Handle{NotifyError: func(code, message string) error {
		got = append(got, code+":"+message)
		return nil
	}})

	if n := tr.NotifyAll("shutting_down", "gateway restart"); n != 1 {
		t.Fatalf("NotifyAll = %d", n)
	}
	if len(got) != 1 || got[0] != "shutting_down:gateway restart" {
		t.Errorf("notifications = %v", got)
	}
}

func TestWaitDrains(t *testing.T) {
	tr := NewTracker()
	unregister := tr.Register(NewID(), Handle{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatal("Wait returned before session unregistered")
	}

	unregister()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if !tr.Wait(ctx2) {
		t.Fatal("Wait did not observe drained tracker")
	}
}
