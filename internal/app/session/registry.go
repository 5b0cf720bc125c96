package session

import (
	"github.com/rs/zerolog/log"

	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

// peer bundles everything the registry owns for one remote participant:
// the media connection and its fixed negotiation role.
type peer struct {
	id   domain.PeerID
	conn core.MediaConnection
	role NegotiationRole
}

// registry is the arena of live peer connections, keyed by remote id.
// The session is the sole mutator; all other components query by id.
// Not safe for concurrent use; the session serializes access.
type registry struct {
	local domain.PeerID
	dial  core.MediaDialer
	peers map[domain.PeerID]*peer
}

func newRegistry(local domain.PeerID, dial core.MediaDialer) *registry {
	return &registry{
		local: local,
		dial:  dial,
		peers: make(map[domain.PeerID]*peer),
	}
}

// ensure returns the connection for remote, creating it if absent.
// Idempotent: at most one underlying connection per remote id.
func (r *registry) ensure(remote domain.PeerID) (*peer, bool, error) {
	if p, ok := r.peers[remote]; ok {
		return p, false, nil
	}
	conn, err := r.dial(remote)
	if err != nil {
		return nil, false, err
	}
	p := &peer{
		id:   remote,
		conn: conn,
		role: ResolveRole(r.local, remote),
	}
	r.peers[remote] = p
	log.Info().
		Str("module", "session.registry").
		Str("peer", string(remote)).
		Str("role", p.role.String()).
		Msg("connection created")
	return p, true, nil
}

func (r *registry) get(id domain.PeerID) (*peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// remove detaches the connection for id so the caller can close it
// outside the session lock. Returns false for an unknown (or already
// removed) id, which makes repeated closes a no-op.
func (r *registry) remove(id domain.PeerID) (*peer, bool) {
	p, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	delete(r.peers, id)
	log.Info().Str("module", "session.registry").Str("peer", string(id)).Msg("connection removed")
	return p, true
}

func (r *registry) removeAll() []*peer {
	out := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.peers = make(map[domain.PeerID]*peer)
	return out
}

func (r *registry) size() int { return len(r.peers) }

// levelSources snapshots the per-peer audio meters for the speaker
// detector. Closed connections drop out on the next snapshot.
func (r *registry) levelSources() map[domain.PeerID]core.LevelSource {
	out := make(map[domain.PeerID]core.LevelSource, len(r.peers))
	for id, p := range r.peers {
		out[id] = p.conn
	}
	return out
}
