package channel

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/telemesh/consult/internal/adapters/signal"
	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

// relayStub speaks the relay's side of the wire protocol for one
// connection: welcome, join handshake, then echoes signal envelopes
// back with the sender stamped.
func relayStub(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(signal.Wire{Type: signal.TypeWelcome, ID: "sid-1"}); err != nil {
			return
		}
		for {
			var frame signal.Wire
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Type {
			case signal.TypeJoinRoom:
				_ = conn.WriteJSON(signal.Wire{Type: signal.TypeAllUsers, Users: []domain.PeerID{"a", "b"}})
				_ = conn.WriteJSON(signal.Wire{Type: signal.TypeUserRole, Role: domain.RoleJoiner})
				_ = conn.WriteJSON(signal.Wire{Type: signal.TypeUserJoined, ID: "c"})
			case signal.TypeSignal:
				frame.Signal.From = frame.Signal.To
				frame.Signal.To = "sid-1"
				_ = conn.WriteJSON(frame)
			}
		}
	}))
	// httptest stops tracking hijacked connections, so srv.Close would
	// otherwise leave the websocket open; tie hijacked conns to the
	// listener so closing the server severs them.
	var mu sync.Mutex
	hijacked := make(map[net.Conn]struct{})
	srv.Config.ConnState = func(c net.Conn, st http.ConnState) {
		if st == http.StateHijacked {
			mu.Lock()
			hijacked[c] = struct{}{}
			mu.Unlock()
		}
	}
	srv.Listener = &closeConnsListener{Listener: srv.Listener, closeConns: func() {
		mu.Lock()
		for c := range hijacked {
			_ = c.Close()
		}
		hijacked = make(map[net.Conn]struct{})
		mu.Unlock()
	}}
	srv.Start()
	return srv
}

type closeConnsListener struct {
	net.Listener
	closeConns func()
}

func (l *closeConnsListener) Close() error {
	l.closeConns()
	return l.Listener.Close()
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, ch *WSChannel) core.SignalEvent {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("event stream closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return core.SignalEvent{}
	}
}

func TestDialJoinAndEvents(t *testing.T) {
	srv := relayStub(t)
	defer srv.Close()

	ch, err := Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	if ch.LocalID() != "sid-1" {
		t.Fatalf("welcome should carry the assigned id, got %q", ch.LocalID())
	}

	users, err := ch.Join(context.Background(), "room-1", domain.ModeDefault)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(users) != 2 || users[0] != "a" || users[1] != "b" {
		t.Fatalf("unexpected snapshot: %v", users)
	}

	ev := nextEvent(t, ch)
	if ev.Kind != core.EventRoleAssigned || ev.Role != domain.RoleJoiner {
		t.Fatalf("expected role event, got %+v", ev)
	}
	ev = nextEvent(t, ch)
	if ev.Kind != core.EventPeerJoined || ev.Peer != "c" {
		t.Fatalf("expected peer-joined event, got %+v", ev)
	}
}

func TestSendRoundTrip(t *testing.T) {
	srv := relayStub(t)
	defer srv.Close()

	ch, err := Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	if _, err := ch.Join(context.Background(), "room-1", domain.ModeDefault); err != nil {
		t.Fatalf("join: %v", err)
	}
	nextEvent(t, ch) // role
	nextEvent(t, ch) // peer joined

	if err := ch.Send(core.SignalMessage{To: "a", Kind: core.PayloadOffer}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ev := nextEvent(t, ch)
	if ev.Kind != core.EventSignal || ev.Msg == nil {
		t.Fatalf("expected a signal event, got %+v", ev)
	}
	if ev.Peer != "a" || ev.Msg.From != "a" {
		t.Fatalf("event should carry the sender, got peer=%q from=%q", ev.Peer, ev.Msg.From)
	}
}

func TestRelayLossClosesEvents(t *testing.T) {
	srv := relayStub(t)

	ch, err := Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	srv.CloseClientConnections()
	srv.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch.Events():
			if !ok {
				return // stream closed, as a lost relay should look
			}
		case <-deadline:
			t.Fatal("event stream should close when the relay goes away")
		}
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	srv := relayStub(t)
	defer srv.Close()

	ch, err := Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ch.Close()

	if err := ch.Send(core.SignalMessage{To: "a", Kind: core.PayloadOffer}); err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}
