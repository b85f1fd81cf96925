package sox

import (
	"log/slog"
	"sync"
)

// member is the registry's view of a session: just enough surface to
// identify it and push a payload at it during broadcast.
type member interface {
	ID() string
	Send(payload string) error
}

// registry is the server's set of live sessions. Membership spans exactly
// the interval between accept and receive-loop exit. A single mutex guards
// the member list; broadcast snapshots the list first so the lock is never
// held across a network write.
type registry struct {
	mu      sync.Mutex
	members []member
	logger  *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{logger: logger}
}

// add registers m, preserving insertion order. Adding a member that is
// already present is a warning-level no-op.
func (r *registry) add(m member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cur := range r.members {
		if cur.ID() == m.ID() {
			r.logger.Warn("session already registered", slog.String("session", m.ID()))
			return
		}
	}
	r.members = append(r.members, m)
}

// remove unregisters m. Removing an absent member is a warning-level no-op.
func (r *registry) remove(m member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, cur := range r.members {
		if cur.ID() == m.ID() {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return
		}
	}
	r.logger.Warn("session was not registered", slog.String("session", m.ID()))
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.members)
}

// snapshot copies the member list under the lock, in insertion order.
func (r *registry) snapshot() []member {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms := make([]member, len(r.members))
	copy(ms, r.members)
	return ms
}

// broadcast delivers payload to every current member, best effort. A failed
// send is reported through onFailure and does not stop delivery to the
// remaining members. Delivery order is the registry's insertion order at the
// moment of the call; concurrent broadcasts may interleave at each recipient.
func (r *registry) broadcast(payload string, onFailure func(m member, err error)) {
	for _, m := range r.snapshot() {
		if err := m.Send(payload); err != nil {
			r.logger.Warn("broadcast send failed",
				slog.String("session", m.ID()),
				slog.String("err", err.Error()))
			if onFailure != nil {
				onFailure(m, err)
			}
		}
	}
}
