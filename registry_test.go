package sox

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakeMember struct {
	id  string
	err error

	mu   sync.Mutex
	sent []string
}

func (f *fakeMember) ID() string { return f.id }

func (f *fakeMember) Send(payload string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeMember) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryUniqueness(t *testing.T) {
	r := newRegistry(discardLogger())
	m := &fakeMember{id: "a"}

	r.add(m)
	r.add(m)
	if got := r.len(); got != 1 {
		t.Errorf("got %d members after duplicate add, want 1", got)
	}

	r.remove(m)
	if got := r.len(); got != 0 {
		t.Errorf("got %d members after remove, want 0", got)
	}

	// Removing an absent member is a no-op.
	r.remove(m)
	if got := r.len(); got != 0 {
		t.Errorf("got %d members after absent remove, want 0", got)
	}
}

func TestRegistryBroadcastFanOut(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			r := newRegistry(discardLogger())

			members := make([]*fakeMember, n)
			for i := range members {
				members[i] = &fakeMember{id: fmt.Sprintf("m%d", i)}
				r.add(members[i])
			}

			r.broadcast("hello", nil)

			for i, m := range members {
				if got := m.sentCount(); got != 1 {
					t.Errorf("member %d got %d sends, want 1", i, got)
				}
			}
		})
	}
}

func TestRegistryBroadcastOrder(t *testing.T) {
	r := newRegistry(discardLogger())

	var (
		mu    sync.Mutex
		order []string
	)
	for _, id := range []string{"a", "b", "c"} {
		id := id
		r.add(&orderedMember{id: id, record: func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, id)
		}})
	}

	r.broadcast("x", nil)

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("got %d deliveries, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery %d went to %q, want %q", i, order[i], want[i])
		}
	}
}

type orderedMember struct {
	id     string
	record func()
}

func (m *orderedMember) ID() string { return m.id }

func (m *orderedMember) Send(string) error {
	m.record()
	return nil
}

func TestRegistryBroadcastPartialFailure(t *testing.T) {
	r := newRegistry(discardLogger())

	good1 := &fakeMember{id: "good1"}
	bad := &fakeMember{id: "bad", err: errors.New("connection reset")}
	good2 := &fakeMember{id: "good2"}

	r.add(good1)
	r.add(bad)
	r.add(good2)

	var failed []string
	r.broadcast("hello", func(m member, _ error) {
		failed = append(failed, m.ID())
	})

	if got := good1.sentCount(); got != 1 {
		t.Errorf("good1 got %d sends, want 1", got)
	}
	if got := good2.sentCount(); got != 1 {
		t.Errorf("good2 got %d sends, want 1", got)
	}
	if len(failed) != 1 || failed[0] != "bad" {
		t.Errorf("got failures %v, want [bad]", failed)
	}

	// A failed send does not evict the member; its session does that when
	// its receive loop exits.
	if got := r.len(); got != 3 {
		t.Errorf("got %d members after broadcast, want 3", got)
	}
}
