// Command agent joins a consultation room as a headless participant. It
// feeds a silent opus stream so peers keep a live audio track, which is
// handy for soak testing rooms and for recording bots.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/telemesh/consult/internal/adapters/capture"
	"github.com/telemesh/consult/internal/adapters/channel"
	"github.com/telemesh/consult/internal/adapters/rtc"
	"github.com/telemesh/consult/internal/app/session"
	"github.com/telemesh/consult/internal/config"
	"github.com/telemesh/consult/internal/core"
	"github.com/telemesh/consult/internal/domain"
)

const frameInterval = 20 * time.Millisecond

// silentFrame is a minimal opus packet decoding to silence.
var silentFrame = []byte{0xf8, 0xff, 0xfe}

func main() {
	room := flag.String("room", "", "room id to join")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *room == "" {
		log.Fatal().Msg("missing -room")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	ch, err := channel.Dial(ctx, cfg.RelayURL)
	if err != nil {
		log.Fatal().Err(err).Msg("relay dial failed")
	}

	source, err := capture.NewSource("agent")
	if err != nil {
		log.Fatal().Err(err).Msg("media source failed")
	}
	// Agents send no video.
	source.SetTrackEnabled(core.TrackVideo, false)

	hooks := session.Hooks{
		OnParticipantJoined: func(p domain.Participant) {
			log.Info().Str("peer", string(p.ID)).Msg("participant joined")
		},
		OnParticipantLeft: func(id domain.PeerID) {
			log.Info().Str("peer", string(id)).Msg("participant left")
		},
		OnActiveSpeaker: func(id domain.PeerID, ok bool) {
			if ok {
				log.Info().Str("peer", string(id)).Msg("active speaker")
			}
		},
		OnChannelLost: func() {
			log.Warn().Msg("relay lost, exiting")
			cancel()
		},
	}

	sess := session.New(ch, source, rtc.Dialer(rtc.Config(cfg.ICEServers)), hooks, session.Options{
		SpeakerInterval:  cfg.SpeakerInterval,
		SpeakerThreshold: cfg.SpeakerThreshold,
	})

	if err := sess.Join(ctx, domain.RoomID(*room), domain.ModeAgent); err != nil {
		log.Fatal().Err(err).Str("room", *room).Msg("join failed")
	}
	log.Info().Str("room", *room).Str("sid", string(ch.LocalID())).Msg("agent joined")

	go feedSilence(ctx, source)

	<-ctx.Done()
	sess.Leave()
	log.Info().Msg("agent exited")
}

// feedSilence pushes one silent opus frame per packetization interval so
// remote jitter buffers see a continuous stream.
func feedSilence(ctx context.Context, source *capture.Source) {
	track, ok := source.Track(core.TrackAudio)
	if !ok {
		return
	}
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteFrame(silentFrame, frameInterval); err != nil {
				return
			}
		}
	}
}
