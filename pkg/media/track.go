/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Track / Source - captured media handed to peer endpoints
 */
package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// TrackStats is a snapshot of what a track has emitted
type TrackStats struct {
	PacketsSent uint64 `json:"packets_sent"`
	BytesSent   uint64 `json:"bytes_sent"`
}

// Track is one audio or video track of a Source.
// A disabled track emits nothing; a stopped track never emits again.
type Track struct {
	id    string
	kind  webrtc.RTPCodecType
	codec CodecInfo
	local *webrtc.TrackLocalStaticRTP

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	packetsSent atomic.Uint64
	bytesSent   atomic.Uint64

	// wire numbering, shifted so a sender sees one continuous stream across track swaps
	seqMu     sync.Mutex
	seqOffset uint16
	tsOffset  uint32
	lastSeq   uint16
	lastTS    uint32
	written   bool
	floor     *rtpPosition
}

// rtpPosition is the last sequence number and timestamp put on the wire
type rtpPosition struct {
	seq uint16
	ts  uint32
}

// continueSlack keeps a handover clear of packets the previous track writes
// between ContinueFrom and the sender swap
const continueSlack = 64

// NewTrack creates an enabled track carrying codec
func NewTrack(kind webrtc.RTPCodecType, codec CodecInfo, streamID string) (*Track, error) {
	if codec.Kind != 0 && codec.Kind != kind {
		return nil, fmt.Errorf("%s codec %s on %s track: %w", codec.Kind, codec.Type, kind, ErrCodecMismatch)
	}

	id := kind.String() + "-" + shortuuid.New()
	local, err := webrtc.NewTrackLocalStaticRTP(codec.Capability(), id, streamID)
	if err != nil {
		return nil, err
	}

	t := &Track{
		id:    id,
		kind:  kind,
		codec: codec,
		local: local,
		done:  make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

// ID returns the track ID
func (t *Track) ID() string {
	return t.id
}

// Kind returns audio or video
func (t *Track) Kind() webrtc.RTPCodecType {
	return t.kind
}

// Codec returns the codec the track is encoded with
func (t *Track) Codec() CodecInfo {
	return t.codec
}

// Local returns the pion track that is attached to peer connections
func (t *Track) Local() *webrtc.TrackLocalStaticRTP {
	return t.local
}

// Enabled reports whether the track is emitting media
func (t *Track) Enabled() bool {
	return t.enabled.Load() && !t.stopped.Load()
}

// SetEnabled turns emission on or off
func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// Stopped reports whether Stop has been called
func (t *Track) Stopped() bool {
	return t.stopped.Load()
}

// Stop ends the track permanently. Safe to call more than once.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		close(t.done)
	})
}

// Done is closed when the track is stopped
func (t *Track) Done() <-chan struct{} {
	return t.done
}

// WriteRTP sends a packet to every connection the track is bound to.
// Packets written while the track is disabled are dropped. The packet is
// not modified; its sequence number and timestamp are shifted by the
// offsets set up through ContinueFrom.
func (t *Track) WriteRTP(pkt *rtp.Packet) error {
	if t.stopped.Load() {
		return ErrTrackStopped
	}
	if !t.enabled.Load() {
		return nil
	}

	out := *pkt
	t.seqMu.Lock()
	if t.floor != nil {
		seq := pkt.SequenceNumber + t.seqOffset
		if !seqAfter(seq, t.floor.seq) {
			t.seqOffset += t.floor.seq + 1 - seq
		}
		ts := pkt.Timestamp + t.tsOffset
		if !tsAfter(ts, t.floor.ts) {
			t.tsOffset += t.floor.ts + 1 - ts
		}
		t.floor = nil
	}
	out.SequenceNumber = pkt.SequenceNumber + t.seqOffset
	out.Timestamp = pkt.Timestamp + t.tsOffset
	t.lastSeq, t.lastTS, t.written = out.SequenceNumber, out.Timestamp, true
	t.seqMu.Unlock()

	if err := t.local.WriteRTP(&out); err != nil {
		return err
	}

	t.packetsSent.Add(1)
	t.bytesSent.Add(uint64(pkt.MarshalSize()))
	return nil
}

// LastWritten returns the sequence number and timestamp of the last packet
// put on the wire; ok is false before the first write
func (t *Track) LastWritten() (seq uint16, ts uint32, ok bool) {
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	return t.lastSeq, t.lastTS, t.written
}

// ContinueFrom makes the next packet of t follow prev's last packet in
// sequence number and timestamp. Call it before a sender swaps prev for t,
// since a sender keeps its SSRC and SRTP drops packets it has already seen.
// Numbering only ever moves forward.
func (t *Track) ContinueFrom(prev *Track) {
	if prev == nil || prev == t {
		return
	}
	seq, ts, ok := prev.LastWritten()
	if !ok {
		return
	}

	step := uint32(continueSlack)
	if rate := prev.codec.ClockRate; rate > 0 {
		step = rate * 2
	}

	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	t.floor = &rtpPosition{seq: seq + continueSlack, ts: ts + step}
}

// seqAfter reports a > b in RTP serial number arithmetic
func seqAfter(a, b uint16) bool {
	return a != b && a-b < 1<<15
}

// tsAfter reports a > b in 32-bit serial arithmetic
func tsAfter(a, b uint32) bool {
	return a != b && a-b < 1<<31
}

// Stats returns emission counters
func (t *Track) Stats() TrackStats {
	return TrackStats{
		PacketsSent: t.packetsSent.Load(),
		BytesSent:   t.bytesSent.Load(),
	}
}

// SourceKind tells a camera source from a display source
type SourceKind int

const (
	SourceCamera SourceKind = iota
	SourceScreen
)

func (k SourceKind) String() string {
	switch k {
	case SourceCamera:
		return "camera"
	case SourceScreen:
		return "screen"
	default:
		return "unknown"
	}
}

// Source is an acquired capture handle holding its tracks
type Source struct {
	id       string
	kind     SourceKind
	streamID string
	tracks   []*Track
}

// NewSource groups tracks into a source
func NewSource(kind SourceKind, streamID string, tracks ...*Track) *Source {
	return &Source{
		id:       shortuuid.New(),
		kind:     kind,
		streamID: streamID,
		tracks:   tracks,
	}
}

// ID returns the source ID
func (s *Source) ID() string {
	return s.id
}

// Kind returns camera or screen
func (s *Source) Kind() SourceKind {
	return s.kind
}

// StreamID returns the media stream ID shared by the tracks
func (s *Source) StreamID() string {
	return s.streamID
}

// Tracks returns all tracks
func (s *Source) Tracks() []*Track {
	result := make([]*Track, len(s.tracks))
	copy(result, s.tracks)
	return result
}

// AudioTracks returns the audio tracks
func (s *Source) AudioTracks() []*Track {
	return s.tracksOfKind(webrtc.RTPCodecTypeAudio)
}

// VideoTracks returns the video tracks
func (s *Source) VideoTracks() []*Track {
	return s.tracksOfKind(webrtc.RTPCodecTypeVideo)
}

func (s *Source) tracksOfKind(kind webrtc.RTPCodecType) []*Track {
	var result []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			result = append(result, t)
		}
	}
	return result
}

// Stop stops every track
func (s *Source) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Active reports whether any track is still live
func (s *Source) Active() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return true
		}
	}
	return false
}

// Stats sums emission counters across tracks
func (s *Source) Stats() TrackStats {
	var total TrackStats
	for _, t := range s.tracks {
		st := t.Stats()
		total.PacketsSent += st.PacketsSent
		total.BytesSent += st.BytesSent
	}
	return total
}
