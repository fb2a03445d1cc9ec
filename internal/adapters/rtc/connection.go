package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/qq276356648/SmartProctor/internal/app/peerlink"
	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(iceURLs []string) webrtc.Configuration {
	if len(iceURLs) == 0 {
		iceURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceURLs}},
	}
}

// NewAPI builds a pion API with default codecs whose logs go to zerolog.
func NewAPI() (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)), nil
}

// Factory creates one PeerConnection per link. Tracks holds the local
// media per stream kind; the answering side leaves it empty.
type Factory struct {
	API     *webrtc.API
	Config  webrtc.Configuration
	Tracks  map[domain.StreamKind]webrtc.TrackLocal
	OnTrack func(key peerlink.Key, track *webrtc.TrackRemote)
}

var _ peerlink.NegotiatorFactory = (&Factory{}).New

func (f *Factory) New(key peerlink.Key, hooks peerlink.Hooks) (peerlink.Negotiator, error) {
	api := f.API
	if api == nil {
		var err error
		if api, err = NewAPI(); err != nil {
			return nil, err
		}
	}
	pc, err := api.NewPeerConnection(f.Config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &WebRTCConnection{
		pc:     pc,
		key:    key,
		hooks:  hooks,
		seen:   make(map[string]struct{}),
		logger: log.With().Str("module", "webrtc").Str("link", key.String()).Logger(),
	}
	if track, ok := f.Tracks[key.Stream]; ok {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s track: %w", key.Stream, err)
		}
	}
	c.bind(f.OnTrack)
	return c, nil
}

// WebRTCConnection is a peerlink.Negotiator over a pion PeerConnection.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	key    peerlink.Key
	hooks  peerlink.Hooks
	logger zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func (c *WebRTCConnection) bind(onTrack func(peerlink.Key, *webrtc.TrackRemote)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.hooks.OnCandidate == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.logger.Error().Err(err).Msg("marshal candidate")
			return
		}
		c.hooks.OnCandidate(b)
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.hooks.OnConnected != nil {
				c.hooks.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if c.hooks.OnFailed != nil {
				c.hooks.OnFailed()
			}
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if onTrack != nil {
			onTrack(c.key, track)
		}
	})
}

func decodeDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, fmt.Errorf("decode %s: %w", want, err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("expected %s, got %s", want, desc.Type)
	}
	return desc, nil
}

func (c *WebRTCConnection) CreateOffer() (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *WebRTCConnection) AcceptOffer(raw json.RawMessage) (json.RawMessage, error) {
	offer, err := decodeDescription(raw, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *WebRTCConnection) AcceptAnswer(raw json.RawMessage) error {
	answer, err := decodeDescription(raw, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(answer)
}

// AddICECandidate applies a remote candidate once; repeats are ignored.
func (c *WebRTCConnection) AddICECandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	c.mu.Lock()
	if _, dup := c.seen[ci.Candidate]; dup {
		c.mu.Unlock()
		return nil
	}
	c.seen[ci.Candidate] = struct{}{}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) Close() {
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return
	}
	c.logger.Info().Msg("closed")
}
