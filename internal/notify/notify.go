// Package notify tracks which players currently hold a live
// connection and pushes short messages to them. Process-local state:
// correct only for single-instance deployment.
package notify

import "sync"

// Message is one push to a connected player.
type Message struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Ref    string `json:"ref,omitempty"`
	Amount int64  `json:"amount,omitempty"`
}

// Registry maps wallet identifiers to live delivery channels.
type Registry struct {
	mu    sync.RWMutex
	conns map[string][]chan Message
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string][]chan Message)}
}

// Connect registers a delivery channel for wallet and returns it with
// an unsubscribe func. The channel is never closed by the registry;
// receivers stop via their own context.
func (r *Registry) Connect(wallet string) (<-chan Message, func()) {
	ch := make(chan Message, 8)
	r.mu.Lock()
	r.conns[wallet] = append(r.conns[wallet], ch)
	r.mu.Unlock()

	unsub := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		chans := r.conns[wallet]
		for i, c := range chans {
			if c == ch {
				r.conns[wallet] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(r.conns[wallet]) == 0 {
			delete(r.conns, wallet)
		}
	}
	return ch, unsub
}

// Connected reports whether wallet has at least one live connection.
func (r *Registry) Connected(wallet string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[wallet]) > 0
}

// Notify best-effort delivers msg to every connection for wallet.
// Slow receivers are skipped rather than blocked on.
func (r *Registry) Notify(wallet string, msg Message) {
	r.mu.RLock()
	chans := append([]chan Message(nil), r.conns[wallet]...)
	r.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- msg:
		default:
			// Drop if receiver is slow.
		}
	}
}
