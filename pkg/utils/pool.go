/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-09
 *
 * Buffer Pool - byte slices reused by remote track readers
 */
package utils

import (
	"sync"
)

// defaultBufferSize covers one RTP packet over a 1500 byte MTU
const defaultBufferSize = 2048

// maxPooledBufferSize keeps oversized one-off buffers out of the pool
const maxPooledBufferSize = 4096

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, defaultBufferSize)
	},
}

// GetBuffer returns a slice of the given length, reused when capacity allows
func GetBuffer(length int) []byte {
	buf := bufferPool.Get().([]byte)
	if cap(buf) < length {
		bufferPool.Put(buf)
		return make([]byte, length)
	}
	return buf[:length]
}

// PutBuffer returns a slice to the pool
func PutBuffer(buf []byte) {
	if cap(buf) < defaultBufferSize || cap(buf) > maxPooledBufferSize {
		return
	}
	bufferPool.Put(buf[:cap(buf)])
}
