package peer

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// WebRTCTransport owns one pion peer connection toward one counterpart and
// implements Dialer for it. ICE/SDP negotiation is delegated to pion; this
// layer only ferries descriptions and candidates through the signaling
// channel.
type WebRTCTransport struct {
	pc     *webrtc.PeerConnection
	peerID string
	onICE  func(webrtc.ICECandidateInit)
	cancel context.CancelFunc
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func NewWebRTCTransport(cfg webrtc.Configuration, peerID string) (*WebRTCTransport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCTransport{pc: pc, peerID: peerID}, nil
}

func (t *WebRTCTransport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "peer.webrtc").Str("peer", t.peerID).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	t.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && t.onICE != nil {
			t.onICE(cand.ToJSON())
		}
	})

	<-ctx.Done()
	return nil
}

// Dial creates the outbound data channel. pion signals readiness through the
// channel's OnOpen, which the session waits on.
func (t *WebRTCTransport) Dial(ctx context.Context) (DataChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ordered := true
	dc, err := t.pc.CreateDataChannel("parley", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &rtcChannel{dc: dc}, nil
}

// OnDataChannel delivers channels opened by the counterpart, for Attach on
// the answering side.
func (t *WebRTCTransport) OnDataChannel(fn func(DataChannel)) {
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().Str("module", "peer.webrtc").Str("peer", t.peerID).Str("label", dc.Label()).Msg("inbound data channel")
		fn(&rtcChannel{dc: dc})
	})
}

// CreateAndSetOffer returns a complete offer: local candidates are gathered
// before the description is handed out, so the counterpart needs no trickle.
func (t *WebRTCTransport) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return t.pc.LocalDescription(), nil
}

func (t *WebRTCTransport) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return t.pc.LocalDescription(), nil
}

func (t *WebRTCTransport) ApplyAnswer(answer webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(answer)
}

func (t *WebRTCTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(ci)
}

func (t *WebRTCTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.onICE = fn
}

func (t *WebRTCTransport) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.pc != nil {
		if err := t.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "peer.webrtc").Str("peer", t.peerID).Msg("close error")
		}
	}
}

// rtcChannel adapts *webrtc.DataChannel to the DataChannel interface.
type rtcChannel struct {
	dc *webrtc.DataChannel
}

func (c *rtcChannel) Send(data []byte) error { return c.dc.Send(data) }

func (c *rtcChannel) OnMessage(fn func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (c *rtcChannel) OnOpen(fn func())  { c.dc.OnOpen(fn) }
func (c *rtcChannel) OnClose(fn func()) { c.dc.OnClose(fn) }
func (c *rtcChannel) Close() error      { return c.dc.Close() }
