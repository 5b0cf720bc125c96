// Package channel is the client side of the signal transport: a
// websocket dial to the relay exposed as a core.SignalChannel.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telemesh/consult/internal/adapters/signal"
	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

var (
	ErrBackpressure  = errors.New("backpressure")
	ErrChannelClosed = errors.New("signal channel closed")
)

const welcomeTimeout = 5 * time.Second

type WSChannel struct {
	conn    *websocket.Conn
	localID domain.PeerID

	send    chan []byte
	events  chan core.SignalEvent
	joinRes chan signal.Wire

	mu     sync.RWMutex
	closed bool
}

// Dial connects to the relay and waits for the welcome frame carrying
// the assigned connection id.
func Dial(ctx context.Context, url string) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(welcomeTimeout)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	var w signal.Wire
	if err := json.Unmarshal(data, &w); err != nil || w.Type != signal.TypeWelcome || w.ID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected welcome frame: %q", data)
	}
	_ = conn.SetReadDeadline(time.Time{})

	ch := &WSChannel{
		conn:    conn,
		localID: w.ID,
		send:    make(chan []byte, 32),
		events:  make(chan core.SignalEvent, 64),
		joinRes: make(chan signal.Wire, 1),
	}
	go ch.writePump()
	go ch.readPump()
	return ch, nil
}

func (ch *WSChannel) LocalID() domain.PeerID { return ch.localID }

func (ch *WSChannel) Join(ctx context.Context, room domain.RoomID, mode domain.RoomMode) ([]domain.PeerID, error) {
	if err := ch.trySend(signal.Wire{Type: signal.TypeJoinRoom, Room: room, Mode: mode}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case w, ok := <-ch.joinRes:
		if !ok {
			return nil, ErrChannelClosed
		}
		if w.Type == signal.TypeError {
			return nil, fmt.Errorf("relay refused join: %s", w.Error)
		}
		return w.Users, nil
	}
}

func (ch *WSChannel) Send(msg core.SignalMessage) error {
	return ch.trySend(signal.Wire{Type: signal.TypeSignal, Signal: &msg})
}

func (ch *WSChannel) Events() <-chan core.SignalEvent { return ch.events }

func (ch *WSChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	close(ch.send)
	_ = ch.conn.Close()
	ch.mu.Unlock()
}

func (ch *WSChannel) trySend(w signal.Wire) error {
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if ch.closed {
		return ErrChannelClosed
	}
	select {
	case ch.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (ch *WSChannel) writePump() {
	for data := range ch.send {
		if err := ch.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return
		}
		if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "channel").Msg("writePump write error")
			return
		}
	}
}

// readPump dispatches relay frames into the event stream. It closes the
// stream on read failure, which the session treats as the relay being
// lost.
func (ch *WSChannel) readPump() {
	defer func() {
		close(ch.events)
		close(ch.joinRes)
		ch.Close()
	}()

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("module", "channel").Str("sid", string(ch.localID)).Msg("relay connection lost")
			return
		}
		var w signal.Wire
		if err := json.Unmarshal(data, &w); err != nil {
			log.Error().Err(err).Str("module", "channel").Msg("bad frame, dropped")
			continue
		}
		switch w.Type {
		case signal.TypeAllUsers, signal.TypeError:
			select {
			case ch.joinRes <- w:
			default:
				if w.Type == signal.TypeError {
					log.Warn().Str("module", "channel").Str("error", w.Error).Msg("relay error")
				}
			}
		case signal.TypeUserRole:
			ch.events <- core.SignalEvent{Kind: core.EventRoleAssigned, Role: w.Role, First: w.IsFirst}
		case signal.TypeUserJoined:
			ch.events <- core.SignalEvent{Kind: core.EventPeerJoined, Peer: w.ID}
		case signal.TypeUserLeft:
			ch.events <- core.SignalEvent{Kind: core.EventPeerLeft, Peer: w.ID}
		case signal.TypeSignal:
			if w.Signal == nil {
				log.Warn().Str("module", "channel").Msg("empty signal frame, dropped")
				continue
			}
			ch.events <- core.SignalEvent{Kind: core.EventSignal, Peer: w.Signal.From, Msg: w.Signal}
		case signal.TypePong:
		default:
			log.Warn().Str("module", "channel").Str("type", w.Type).Msg("unknown frame, dropped")
		}
	}
}
