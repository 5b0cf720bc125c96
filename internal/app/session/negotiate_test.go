package session

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

func joinedSession(t *testing.T, local domain.PeerID, snapshot ...domain.PeerID) (*Session, *fakeChannel, *fakeDialer) {
	t.Helper()
	ch := newFakeChannel(local, snapshot...)
	dialer := newFakeDialer()
	s := New(ch, newFakeSource(), dialer.dial, Hooks{}, Options{})
	if err := s.Join(context.Background(), "room-1", domain.ModeDefault); err != nil {
		t.Fatalf("join: %v", err)
	}
	t.Cleanup(s.Leave)
	return s, ch, dialer
}

func offerFrom(id domain.PeerID) core.SignalMessage {
	return core.SignalMessage{
		From: id,
		Kind: core.PayloadOffer,
		SDP:  &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote offer"},
	}
}

func TestInboundOfferIsAnswered(t *testing.T) {
	s, ch, dialer := joinedSession(t, "a", "b")

	s.handleSignal(context.Background(), offerFrom("b"))

	if _, answers, _, _ := dialer.conn("b", 0).counts(); answers != 1 {
		t.Fatalf("expected one answer created, got %d", answers)
	}
	sent := ch.sentOfKind(core.PayloadAnswer)
	if len(sent) != 1 || sent[0].To != "b" || sent[0].From != "a" {
		t.Fatalf("expected one answer to b from a, got %+v", sent)
	}
}

func TestOfferFromUnknownPeerCreatesConnection(t *testing.T) {
	s, _, dialer := joinedSession(t, "a")

	// A signal can outrun the relay's join notification.
	s.handleSignal(context.Background(), offerFrom("b"))

	if dialer.dialCount("b") != 1 {
		t.Fatal("offer from unseen peer should create the connection")
	}
	if len(s.Participants()) != 1 {
		t.Fatal("offer from unseen peer should register the participant")
	}
}

func TestGlareInitiatorDiscardsInboundOffer(t *testing.T) {
	// Local "a" orders before "b", so local initiates for this pair.
	s, ch, dialer := joinedSession(t, "a", "b")
	conn := dialer.conn("b", 0)
	conn.setPendingOffer(true)

	s.handleSignal(context.Background(), offerFrom("b"))

	if _, answers, _, rollbacks := conn.counts(); answers != 0 || rollbacks != 0 {
		t.Fatalf("initiator must ignore the colliding offer, answers=%d rollbacks=%d", answers, rollbacks)
	}
	if !conn.HasPendingLocalOffer() {
		t.Fatal("local offer should stay pending")
	}
	if len(ch.sentOfKind(core.PayloadAnswer)) != 0 {
		t.Fatal("no answer should leave the initiator side")
	}
}

func TestGlareResponderRollsBackAndAnswers(t *testing.T) {
	// Local "b" orders after "a", so the remote offer wins.
	s, ch, dialer := joinedSession(t, "b", "a")
	conn := dialer.conn("a", 0)
	conn.setPendingOffer(true)

	s.handleSignal(context.Background(), offerFrom("a"))

	if _, answers, _, rollbacks := conn.counts(); rollbacks != 1 || answers != 1 {
		t.Fatalf("responder should roll back then answer, rollbacks=%d answers=%d", rollbacks, answers)
	}
	sent := ch.sentOfKind(core.PayloadAnswer)
	if len(sent) != 1 || sent[0].To != "a" {
		t.Fatalf("expected answer to a, got %+v", sent)
	}
}

func TestAnswerWithoutPriorOfferDropped(t *testing.T) {
	s, _, dialer := joinedSession(t, "a", "b")

	s.handleSignal(context.Background(), core.SignalMessage{
		From: "b",
		Kind: core.PayloadAnswer,
		SDP:  &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 stray"},
	})

	if _, _, applied, _ := dialer.conn("b", 0).counts(); applied != 0 {
		t.Fatal("stray answer must not be applied")
	}
}

func TestAnswerFromUnknownPeerDropped(t *testing.T) {
	s, _, dialer := joinedSession(t, "a")

	s.handleSignal(context.Background(), core.SignalMessage{
		From: "ghost",
		Kind: core.PayloadAnswer,
		SDP:  &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 stray"},
	})

	if dialer.dialCount("ghost") != 0 {
		t.Fatal("an answer must never create a connection")
	}
}

func TestCandidateForwardedToConnection(t *testing.T) {
	s, _, dialer := joinedSession(t, "a", "b")

	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 UDP 2122252543 192.0.2.1 49827 typ host"}
	s.handleSignal(context.Background(), core.SignalMessage{From: "b", Kind: core.PayloadCandidate, Candidate: &cand})

	conn := dialer.conn("b", 0)
	conn.mu.Lock()
	n := len(conn.candidates)
	conn.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected candidate handed to connection, got %d", n)
	}
}

func TestNegotiationNeededInitiatorOffers(t *testing.T) {
	s, ch, dialer := joinedSession(t, "a", "b")

	s.handleNegotiationNeeded("b")

	if offers, _, _, _ := dialer.conn("b", 0).counts(); offers != 1 {
		t.Fatalf("initiator should create an offer, got %d", offers)
	}
	sent := ch.sentOfKind(core.PayloadOffer)
	if len(sent) != 1 || sent[0].To != "b" {
		t.Fatalf("expected offer to b, got %+v", sent)
	}
}

func TestNegotiationNeededResponderWaits(t *testing.T) {
	s, ch, dialer := joinedSession(t, "b", "a")

	s.handleNegotiationNeeded("a")

	if offers, _, _, _ := dialer.conn("a", 0).counts(); offers != 0 {
		t.Fatalf("responder must not offer, got %d", offers)
	}
	if len(ch.sentOfKind(core.PayloadOffer)) != 0 {
		t.Fatal("responder must send no offer")
	}
}

// Both sides of a pair renegotiating at once must converge: exactly one
// side offers, the other answers.
func TestSimultaneousRenegotiationConverges(t *testing.T) {
	sideA, chA, dialerA := joinedSession(t, "a", "b")
	sideB, chB, dialerB := joinedSession(t, "b", "a")

	sideA.handleNegotiationNeeded("b")
	sideB.handleNegotiationNeeded("a")

	offersA := chA.sentOfKind(core.PayloadOffer)
	offersB := chB.sentOfKind(core.PayloadOffer)
	if len(offersA) != 1 || len(offersB) != 0 {
		t.Fatalf("exactly side a should offer, got a=%d b=%d", len(offersA), len(offersB))
	}

	// Deliver a's offer to b, then b's answer back to a.
	sideB.handleSignal(context.Background(), core.SignalMessage{
		From: "a", Kind: core.PayloadOffer, SDP: offersA[0].SDP,
	})
	answers := chB.sentOfKind(core.PayloadAnswer)
	if len(answers) != 1 {
		t.Fatalf("side b should answer, got %d", len(answers))
	}
	sideA.handleSignal(context.Background(), core.SignalMessage{
		From: "b", Kind: core.PayloadAnswer, SDP: answers[0].SDP,
	})

	if _, _, applied, _ := dialerA.conn("b", 0).counts(); applied != 1 {
		t.Fatalf("side a should apply the answer, got %d", applied)
	}
	if dialerA.conn("b", 0).HasPendingLocalOffer() {
		t.Fatal("side a's offer should be settled")
	}
	if dialerB.conn("a", 0).HasPendingLocalOffer() {
		t.Fatal("side b should hold no pending offer")
	}
}

func TestMalformedSignalsDropped(t *testing.T) {
	s, ch, dialer := joinedSession(t, "a", "b")

	s.handleSignal(context.Background(), core.SignalMessage{Kind: core.PayloadOffer})                // no sender
	s.handleSignal(context.Background(), core.SignalMessage{From: "b", Kind: core.PayloadOffer})     // no sdp
	s.handleSignal(context.Background(), core.SignalMessage{From: "b", Kind: core.PayloadCandidate}) // no candidate
	s.handleSignal(context.Background(), core.SignalMessage{From: "b", Kind: "bogus"})

	if _, answers, _, _ := dialer.conn("b", 0).counts(); answers != 0 {
		t.Fatal("malformed signals must not reach negotiation")
	}
	if len(ch.sentOfKind(core.PayloadAnswer)) != 0 {
		t.Fatal("malformed signals must produce no replies")
	}
}
