/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Codec - codecs a capture track can be encoded with
 */
package media

import (
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
)

// CodecType names a codec independent of its MIME type
type CodecType string

const (
	CodecTypeVP8  CodecType = "VP8"
	CodecTypeVP9  CodecType = "VP9"
	CodecTypeH264 CodecType = "H264"
	CodecTypeAV1  CodecType = "AV1"
	CodecTypeOpus CodecType = "opus"
	CodecTypeG722 CodecType = "G722"
)

// CodecInfo describes one RTP codec a capture track can carry
type CodecInfo struct {
	Type        CodecType
	Kind        webrtc.RTPCodecType
	MimeType    string
	ClockRate   uint32
	Channels    uint16
	SDPFmtpLine string
}

// Capability converts the codec into the pion capability used by local tracks
func (c CodecInfo) Capability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
}

func videoCodec(t CodecType, mime, fmtp string) CodecInfo {
	return CodecInfo{Type: t, Kind: webrtc.RTPCodecTypeVideo, MimeType: mime, ClockRate: 90000, SDPFmtpLine: fmtp}
}

// Codecs registered by webrtc.MediaEngine.RegisterDefaultCodecs, so either endpoint can negotiate them
var (
	CodecVP8  = videoCodec(CodecTypeVP8, webrtc.MimeTypeVP8, "")
	CodecVP9  = videoCodec(CodecTypeVP9, webrtc.MimeTypeVP9, "profile-id=0")
	CodecH264 = videoCodec(CodecTypeH264, webrtc.MimeTypeH264, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f")
	CodecAV1  = videoCodec(CodecTypeAV1, webrtc.MimeTypeAV1, "")

	CodecOpus = CodecInfo{Type: CodecTypeOpus, Kind: webrtc.RTPCodecTypeAudio, MimeType: webrtc.MimeTypeOpus,
		ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"}
	CodecG722 = CodecInfo{Type: CodecTypeG722, Kind: webrtc.RTPCodecTypeAudio, MimeType: webrtc.MimeTypeG722,
		ClockRate: 8000}
)

var allCodecs = []CodecInfo{CodecVP8, CodecVP9, CodecH264, CodecAV1, CodecOpus, CodecG722}

// CodecRegistry holds the codecs per media kind, preferred first
type CodecRegistry struct {
	mu     sync.RWMutex
	byKind map[webrtc.RTPCodecType][]CodecInfo
}

// NewCodecRegistry creates a registry with every supported codec
func NewCodecRegistry() *CodecRegistry {
	r := &CodecRegistry{byKind: make(map[webrtc.RTPCodecType][]CodecInfo)}
	for _, c := range allCodecs {
		r.byKind[c.Kind] = append(r.byKind[c.Kind], c)
	}
	return r
}

// Codecs returns the codecs of kind, preferred first
func (r *CodecRegistry) Codecs(kind webrtc.RTPCodecType) []CodecInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]CodecInfo(nil), r.byKind[kind]...)
}

// Find looks a codec of kind up by name or MIME type
func (r *CodecRegistry) Find(kind webrtc.RTPCodecType, name string) (CodecInfo, bool) {
	want := ParseMimeType(name)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byKind[kind] {
		if c.Type == want {
			return c, true
		}
	}
	return CodecInfo{}, false
}

// FindVideoCodec is Find for video
func (r *CodecRegistry) FindVideoCodec(name string) (CodecInfo, bool) {
	return r.Find(webrtc.RTPCodecTypeVideo, name)
}

// FindAudioCodec is Find for audio
func (r *CodecRegistry) FindAudioCodec(name string) (CodecInfo, bool) {
	return r.Find(webrtc.RTPCodecTypeAudio, name)
}

// Preferred returns the first codec of kind
func (r *CodecRegistry) Preferred(kind webrtc.RTPCodecType) (CodecInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byKind[kind]
	if len(list) == 0 {
		return CodecInfo{}, false
	}
	return list[0], true
}

// SetPreferred moves codecType to the front of its kind; unknown types are ignored
func (r *CodecRegistry) SetPreferred(codecType CodecType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, list := range r.byKind {
		for i, c := range list {
			if c.Type != codecType {
				continue
			}
			reordered := make([]CodecInfo, 0, len(list))
			reordered = append(reordered, c)
			reordered = append(reordered, list[:i]...)
			r.byKind[kind] = append(reordered, list[i+1:]...)
			return
		}
	}
}

// ParseMimeType maps a codec name or MIME type such as "video/VP8" to a CodecType
func ParseMimeType(mimeType string) CodecType {
	name := strings.ToLower(mimeType)
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	for _, c := range allCodecs {
		if strings.ToLower(string(c.Type)) == name {
			return c.Type
		}
	}
	return CodecType(mimeType)
}

// IsVideoCodec reports whether codecType is a supported video codec
func IsVideoCodec(codecType CodecType) bool {
	return kindOf(codecType) == webrtc.RTPCodecTypeVideo
}

// IsAudioCodec reports whether codecType is a supported audio codec
func IsAudioCodec(codecType CodecType) bool {
	return kindOf(codecType) == webrtc.RTPCodecTypeAudio
}

func kindOf(codecType CodecType) webrtc.RTPCodecType {
	for _, c := range allCodecs {
		if c.Type == codecType {
			return c.Kind
		}
	}
	return 0
}
