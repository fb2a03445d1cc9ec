// Command peer is a headless exam participant. As a taker it publishes
// silent desktop and camera tracks; as a proctor it receives them and
// logs RTP volume. It is used to smoke-test a deployment end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qq276356648/SmartProctor/internal/adapters/rtc"
	sig "github.com/qq276356648/SmartProctor/internal/adapters/signal"
	"github.com/qq276356648/SmartProctor/internal/app/peerlink"
	"github.com/qq276356648/SmartProctor/internal/config"
	"github.com/qq276356648/SmartProctor/internal/domain"
)

func localTracks(user domain.UserID) (map[domain.StreamKind]webrtc.TrackLocal, error) {
	tracks := make(map[domain.StreamKind]webrtc.TrackLocal, len(domain.StreamKinds))
	for _, s := range domain.StreamKinds {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, string(s), string(user))
		if err != nil {
			return nil, err
		}
		tracks[s] = t
	}
	return tracks, nil
}

func drain(key peerlink.Key, track *webrtc.TrackRemote) {
	logger := log.With().Str("module", "peer").Str("link", key.String()).Logger()
	var total int
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Msg("track read")
			}
			logger.Info().Int("bytes", total).Msg("track ended")
			return
		}
		total += n
	}
}

func main() {
	url := flag.String("url", "ws://localhost:8080/api/ws/signal", "signaling websocket URL")
	user := flag.String("user", "", "user id")
	exam := flag.String("exam", "", "exam id")
	roleFlag := flag.String("role", "taker", "taker or proctor")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	uid, err := domain.ParseUserID(*user)
	if err != nil {
		log.Fatal().Err(err).Msg("user")
	}
	role, err := domain.ParseRole(*roleFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("role")
	}

	api, err := rtc.NewAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}
	factory := &rtc.Factory{API: api, Config: rtc.DefaultWebRTCConfig(cfg.ICEServers), OnTrack: func(k peerlink.Key, t *webrtc.TrackRemote) {
		go drain(k, t)
	}}
	if role == domain.RoleTaker {
		if factory.Tracks, err = localTracks(uid); err != nil {
			log.Fatal().Err(err).Msg("local tracks")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := sig.Dial(dialCtx, sig.ClientConfig{
		URL:     *url,
		User:    uid,
		Exam:    domain.ExamID(*exam),
		Role:    role,
		Factory: factory.New,
		Timeout: cfg.NegotiationTimeout,
	})
	dialCancel()
	var denied *sig.DeniedError
	if errors.As(err, &denied) {
		log.Fatal().Int("code", denied.Code).Str("reason", denied.Reason).Msg(denied.Message)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	log.Info().Str("module", "peer").Str("exam", *exam).Str("role", string(role)).
		Interface("roster", client.Roster()).Msg("joined")

	if role == domain.RoleTaker {
		for _, s := range domain.StreamKinds {
			if err := client.Publish(s); err != nil {
				log.Error().Err(err).Str("stream", string(s)).Msg("publish")
			}
		}
	}

	select {
	case <-ctx.Done():
		_ = client.Close()
	case <-client.Done():
		log.Info().Err(client.Err()).Msg("signaling closed")
	}
}
