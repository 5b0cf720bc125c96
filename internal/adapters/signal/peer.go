package signal

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telemesh/consult/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// wsPeer is one relay-side connection. Sends go through a buffered
// channel; a full buffer drops the frame instead of blocking the room.
type wsPeer struct {
	id   domain.PeerID
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
	room   domain.RoomID
}

func newWSPeer(id domain.PeerID, conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		id:   id,
		conn: conn,
		send: make(chan []byte, 32),
	}
}

func (p *wsPeer) TrySend(b []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("connection closed")
	}
	select {
	case p.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (p *wsPeer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.send)
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.mu.Unlock()
}

func (p *wsPeer) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := p.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.id)).Msg("sendJSON dropped")
	}
}

func (p *wsPeer) setRoom(room domain.RoomID) {
	p.mu.Lock()
	p.room = room
	p.mu.Unlock()
}

func (p *wsPeer) roomID() domain.RoomID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.room
}
