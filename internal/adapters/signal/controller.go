package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telemesh/consult/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RoomInfo is a read-only view for the listing API.
type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Mode        domain.RoomMode `json:"mode,omitempty"`
	MemberCount int             `json:"member_count"`
}

// Controller is the relay: it owns the room set and forwards signal
// envelopes between peers without interpreting them.
type Controller struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*wsRoom
	limiter *JoinRateLimiter
}

func NewController(limiter *JoinRateLimiter) *Controller {
	return &Controller{
		rooms:   make(map[domain.RoomID]*wsRoom),
		limiter: limiter,
	}
}

// HandleSignal upgrades the request and runs the read/write pumps. The
// assigned connection id is announced in a welcome frame before any
// other traffic.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := domain.PeerID(c.GetString("client_token"))
	if sid == "" {
		sid = domain.NewPeerID()
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	peer := newWSPeer(sid, ws)
	peer.sendJSON(Wire{Type: TypeWelcome, ID: sid})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, peer)
	go ctl.readPump(ctx, cancel, peer)
}

func (ctl *Controller) writePump(ctx context.Context, p *wsPeer) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-p.send:
			if !ok {
				return
			}
			if err := p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, p *wsPeer) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(p.id)).Msg("readPump closing")
		ctl.disconnect(p)
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := p.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleFrame(p, data)
		}
	}
}

func (ctl *Controller) handleFrame(p *wsPeer, data []byte) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(p.id)).Msg("bad json")
		return
	}
	switch w.Type {
	case TypeJoinRoom:
		ctl.joinRoom(p, w.Room, w.Mode)
	case TypeLeaveRoom:
		ctl.leaveRoom(p)
	case TypeSignal:
		ctl.forward(p, w)
	case TypePing:
		p.sendJSON(Wire{Type: TypePong})
	default:
		log.Warn().Str("module", "signal").Str("type", w.Type).Msg("unknown frame")
	}
}

func (ctl *Controller) joinRoom(p *wsPeer, roomID domain.RoomID, mode domain.RoomMode) {
	if _, err := domain.NewRoom(roomID, mode); err != nil {
		p.sendJSON(Wire{Type: TypeError, Error: err.Error()})
		return
	}
	if ctl.limiter != nil && !ctl.limiter.Allow(p.id) {
		p.sendJSON(Wire{Type: TypeError, Error: "join rate limited"})
		return
	}

	// Re-joining moves the peer; the old room sees a disconnect.
	ctl.leaveRoom(p)

	// Lookup and add stay under one lock so a concurrent last-leave
	// cannot dissolve the room between them.
	ctl.mu.Lock()
	room, ok := ctl.rooms[roomID]
	if !ok {
		room = newWSRoom(roomID, mode)
		ctl.rooms[roomID] = room
	}
	others := room.ids(p.id)
	room.add(p)
	ctl.mu.Unlock()
	p.setRoom(roomID)

	// Snapshot first, then the advisory role, then tell the room.
	p.sendJSON(Wire{Type: TypeAllUsers, Users: others})
	role := domain.RoleJoiner
	if len(others) == 0 {
		role = domain.RoleFirstJoiner
	}
	p.sendJSON(Wire{Type: TypeUserRole, Role: role, IsFirst: role == domain.RoleFirstJoiner})
	room.broadcast(p.id, Wire{Type: TypeUserJoined, ID: p.id})

	log.Info().Str("module", "signal").Str("sid", string(p.id)).Str("room", string(roomID)).Str("role", string(role)).Msg("joined room")
}

// forward relays a signal envelope to its addressee within the sender's
// room, stamping the sender so clients cannot spoof each other.
func (ctl *Controller) forward(p *wsPeer, w Wire) {
	if w.Signal == nil || w.Signal.To == "" {
		log.Warn().Str("module", "signal").Str("sid", string(p.id)).Msg("signal without addressee, dropped")
		return
	}
	roomID := p.roomID()
	if roomID == "" {
		log.Warn().Str("module", "signal").Str("sid", string(p.id)).Msg("signal outside a room, dropped")
		return
	}
	ctl.mu.RLock()
	room, ok := ctl.rooms[roomID]
	ctl.mu.RUnlock()
	if !ok {
		return
	}
	target, ok := room.get(w.Signal.To)
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(p.id)).Str("to", string(w.Signal.To)).Msg("signal target not in room, dropped")
		return
	}
	w.Signal.From = p.id
	target.sendJSON(Wire{Type: TypeSignal, Signal: w.Signal})
}

func (ctl *Controller) leaveRoom(p *wsPeer) {
	roomID := p.roomID()
	if roomID == "" {
		return
	}
	p.setRoom("")

	ctl.mu.Lock()
	room, ok := ctl.rooms[roomID]
	if ok && room.remove(p.id) == 0 {
		delete(ctl.rooms, roomID)
		log.Info().Str("module", "signal").Str("room", string(roomID)).Msg("room dissolved")
	}
	ctl.mu.Unlock()
	if !ok {
		return
	}

	room.broadcast(p.id, Wire{Type: TypeUserLeft, ID: p.id})
	log.Info().Str("module", "signal").Str("sid", string(p.id)).Str("room", string(roomID)).Msg("left room")
}

func (ctl *Controller) disconnect(p *wsPeer) {
	ctl.leaveRoom(p)
	p.Close()
}

func (ctl *Controller) Rooms() []RoomInfo {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	out := make([]RoomInfo, 0, len(ctl.rooms))
	for id, r := range ctl.rooms {
		out = append(out, RoomInfo{ID: id, Mode: r.mode, MemberCount: r.count()})
	}
	return out
}
