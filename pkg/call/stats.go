/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Stats - 通话流量统计
 * 接收方向来自远端 Track 的 RTP 包，发送方向来自本地采集 Track 的计数
 */
package call

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/maiguangyang/call_core/pkg/media"
)

// TrafficStats 流量统计
type TrafficStats struct {
	mu sync.Mutex

	// 接收（远端 Track）
	bytesIn   uint64
	packetsIn uint64
	lost      uint64

	// 已释放 Source 的发送累计
	releasedOut media.TrackStats

	// 码率计算
	lastCalcTime time.Time
	lastBytesIn  uint64
	lastBytesOut uint64
	bitrateIn    float64
	bitrateOut   float64
}

// NewTrafficStats 创建流量统计
func NewTrafficStats() *TrafficStats {
	return &TrafficStats{
		lastCalcTime: time.Now(),
	}
}

// AddPacketIn 记录一个接收包
func (s *TrafficStats) AddPacketIn(bytes int) {
	atomic.AddUint64(&s.bytesIn, uint64(bytes))
	atomic.AddUint64(&s.packetsIn, 1)
}

// AddPacketsLost 记录丢包数
func (s *TrafficStats) AddPacketsLost(n uint64) {
	atomic.AddUint64(&s.lost, n)
}

// AddReleased 把即将释放的 Source 计数并入累计，释放后统计不丢失
func (s *TrafficStats) AddReleased(st media.TrackStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releasedOut.PacketsSent += st.PacketsSent
	s.releasedOut.BytesSent += st.BytesSent
}

// Snapshot 获取快照，live 为仍在采集的 Source 的当前计数
func (s *TrafficStats) Snapshot(live media.TrackStats) TrafficStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	bytesIn := atomic.LoadUint64(&s.bytesIn)
	packetsIn := atomic.LoadUint64(&s.packetsIn)
	lost := atomic.LoadUint64(&s.lost)
	bytesOut := s.releasedOut.BytesSent + live.BytesSent
	packetsOut := s.releasedOut.PacketsSent + live.PacketsSent

	// 间隔太短时沿用上次码率
	now := time.Now()
	if elapsed := now.Sub(s.lastCalcTime).Seconds(); elapsed >= 0.1 {
		s.bitrateIn = float64(bytesIn-s.lastBytesIn) * 8 / elapsed
		s.bitrateOut = float64(bytesOut-s.lastBytesOut) * 8 / elapsed
		s.lastBytesIn = bytesIn
		s.lastBytesOut = bytesOut
		s.lastCalcTime = now
	}

	var lossRate float64
	if packetsIn+lost > 0 {
		lossRate = float64(lost) / float64(packetsIn+lost)
	}

	return TrafficStatsSnapshot{
		TotalBytesIn:    bytesIn,
		TotalBytesOut:   bytesOut,
		TotalPacketsIn:  packetsIn,
		TotalPacketsOut: packetsOut,
		PacketsLost:     lost,
		BitrateIn:       s.bitrateIn,
		BitrateOut:      s.bitrateOut,
		LossRate:        lossRate,
		Timestamp:       now.Unix(),
	}
}

// TrafficStatsSnapshot 统计快照
type TrafficStatsSnapshot struct {
	TotalBytesIn    uint64  `json:"total_bytes_in"`
	TotalBytesOut   uint64  `json:"total_bytes_out"`
	TotalPacketsIn  uint64  `json:"total_packets_in"`
	TotalPacketsOut uint64  `json:"total_packets_out"`
	PacketsLost     uint64  `json:"packets_lost"`
	BitrateIn       float64 `json:"bitrate_in_bps"`
	BitrateOut      float64 `json:"bitrate_out_bps"`
	LossRate        float64 `json:"loss_rate"`
	Timestamp       int64   `json:"timestamp"`
}

// ToJSON 序列化为 JSON
func (s TrafficStatsSnapshot) ToJSON() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// sequenceTracker 通过 RTP 序列号空洞估算丢包
type sequenceTracker struct {
	started bool
	lastSeq uint16
}

// maxSequenceGap 超过此间隔视为流重启而非丢包
const maxSequenceGap = 1000

// observe 解析 RTP 头，返回本包之前丢失的包数
func (t *sequenceTracker) observe(packet []byte) uint64 {
	var header rtp.Header
	if _, err := header.Unmarshal(packet); err != nil {
		return 0
	}

	if !t.started {
		t.started = true
		t.lastSeq = header.SequenceNumber
		return 0
	}

	gap := header.SequenceNumber - t.lastSeq
	switch {
	case gap == 0:
		// 重复包
		return 0
	case gap > 0xFFFF-maxSequenceGap:
		// 迟到的乱序包
		return 0
	case gap > maxSequenceGap:
		// 流重启
		t.lastSeq = header.SequenceNumber
		return 0
	}

	t.lastSeq = header.SequenceNumber
	return uint64(gap - 1)
}
