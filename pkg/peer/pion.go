/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * PionSubstrate - Connection backed by pion/webrtc
 */
package peer

import (
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// PionOption configures a PionSubstrate
type PionOption func(*pionOptions)

type pionOptions struct {
	iceServers    []webrtc.ICEServer
	net           transport.Net
	portMin       uint16
	portMax       uint16
	loggerFactory logging.LoggerFactory
	api           *webrtc.API
}

// WithICEServers sets STUN/TURN servers
func WithICEServers(servers []webrtc.ICEServer) PionOption {
	return func(o *pionOptions) {
		o.iceServers = servers
	}
}

// WithNet routes all ICE traffic through n, e.g. a vnet.Net in tests
func WithNet(n transport.Net) PionOption {
	return func(o *pionOptions) {
		o.net = n
	}
}

// WithPortRange restricts ephemeral UDP ports
func WithPortRange(min, max uint16) PionOption {
	return func(o *pionOptions) {
		o.portMin = min
		o.portMax = max
	}
}

// WithLoggerFactory overrides the pion logger factory
func WithLoggerFactory(f logging.LoggerFactory) PionOption {
	return func(o *pionOptions) {
		o.loggerFactory = f
	}
}

// WithWebRTCAPI uses a prebuilt API and ignores engine options
func WithWebRTCAPI(api *webrtc.API) PionOption {
	return func(o *pionOptions) {
		o.api = api
	}
}

// PionSubstrate creates pion PeerConnections
type PionSubstrate struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionSubstrate builds a webrtc.API with the default codecs and interceptors (NACK, RTCP reports, TWCC)
func NewPionSubstrate(opts ...PionOption) (*PionSubstrate, error) {
	o := &pionOptions{}
	for _, opt := range opts {
		opt(o)
	}

	api := o.api
	if api == nil {
		m := &webrtc.MediaEngine{}
		if err := m.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}

		ir := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
			return nil, err
		}

		se := webrtc.SettingEngine{}
		if o.loggerFactory != nil {
			se.LoggerFactory = o.loggerFactory
		} else {
			se.LoggerFactory = utils.NewPionLoggerFactory()
		}
		if o.net != nil {
			se.SetNet(o.net)
		}
		if o.portMin != 0 || o.portMax != 0 {
			if err := se.SetEphemeralUDPPortRange(o.portMin, o.portMax); err != nil {
				return nil, err
			}
		}

		api = webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se), webrtc.WithInterceptorRegistry(ir))
	}

	return &PionSubstrate{
		api: api,
		config: webrtc.Configuration{
			ICEServers: o.iceServers,
		},
	}, nil
}

// NewConnection implements Substrate
func (s *PionSubstrate) NewConnection() (Connection, error) {
	pc, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, err
	}
	return &pionConnection{pc: pc}, nil
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConnection) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// Drain RTCP so the interceptors keep running
	go readRTCP(sender)

	return sender, nil
}

func (c *pionConnection) OnICECandidate(f func(candidate *webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			f(nil)
			return
		}
		candidateInit := candidate.ToJSON()
		f(&candidateInit)
	})
}

func (c *pionConnection) OnTrack(f func(track RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(&pionRemoteTrack{track: track})
	})
}

func (c *pionConnection) OnConnectionStateChange(f func(state webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

// readRTCP reads RTCP until the sender is stopped
func readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionRemoteTrack) ID() string                { return t.track.ID() }
func (t *pionRemoteTrack) StreamID() string          { return t.track.StreamID() }
func (t *pionRemoteTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *pionRemoteTrack) Read(b []byte) (int, error) {
	n, _, err := t.track.Read(b)
	return n, err
}
