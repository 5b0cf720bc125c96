package signal

import (
	"sync"

	"github.com/telemesh/consult/internal/domain"
)

// wsRoom is a relay-side participant set. Rooms are created on first
// join and dissolve when the last peer leaves.
type wsRoom struct {
	id   domain.RoomID
	mode domain.RoomMode

	mu    sync.RWMutex
	peers map[domain.PeerID]*wsPeer
}

func newWSRoom(id domain.RoomID, mode domain.RoomMode) *wsRoom {
	return &wsRoom{
		id:    id,
		mode:  mode,
		peers: make(map[domain.PeerID]*wsPeer),
	}
}

func (r *wsRoom) add(p *wsPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.id] = p
}

// remove deletes the peer and reports how many remain.
func (r *wsRoom) remove(id domain.PeerID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
	return len(r.peers)
}

func (r *wsRoom) get(id domain.PeerID) (*wsPeer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// ids lists every member except the excluded one.
func (r *wsRoom) ids(except domain.PeerID) []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(r.peers))
	for id := range r.peers {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

func (r *wsRoom) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *wsRoom) broadcast(except domain.PeerID, v any) {
	r.mu.RLock()
	peers := make([]*wsPeer, 0, len(r.peers))
	for id, p := range r.peers {
		if id != except {
			peers = append(peers, p)
		}
	}
	r.mu.RUnlock()
	for _, p := range peers {
		p.sendJSON(v)
	}
}
