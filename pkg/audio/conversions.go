// Package audio holds sample-format plumbing for the 24kHz mono PCM16
// contract: conversions between float, int16 and little-endian byte views,
// short linear fades, and capture-side resampling.
package audio

import (
	"encoding/binary"
	"math"
)

func float32ToInt16(sample float32) int16 {
	if sample >= 1.0 {
		return math.MaxInt16
	}
	if sample <= -1.0 {
		return math.MinInt16
	}
	return int16(sample * math.MaxInt16)
}

// Float32SliceToInt16SliceInto fills dst with float32 converted to clamped
// int16 and returns the slice.
func Float32SliceToInt16SliceInto(dst []int16, samples []float32) []int16 {
	if cap(dst) < len(samples) {
		dst = make([]int16, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = float32ToInt16(sample)
	}
	return dst
}

// Int16SliceToFloat32Into fills dst with int16 converted to float32 in
// [-1, 1] and returns the slice.
func Int16SliceToFloat32Into(dst []float32, samples []int16) []float32 {
	if cap(dst) < len(samples) {
		dst = make([]float32, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = float32(sample) / float32(math.MaxInt16)
	}
	return dst
}

// Int16SliceToBytesInto converts int16 samples to little-endian bytes.
func Int16SliceToBytesInto(dst []byte, samples []int16) []byte {
	needed := len(samples) * 2
	if cap(dst) < needed {
		dst = make([]byte, needed)
	} else {
		dst = dst[:needed]
	}
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(sample))
	}
	return dst
}

// BytesToInt16Slice parses little-endian PCM16 bytes. A trailing odd byte
// is dropped.
func BytesToInt16Slice(data []byte) []int16 {
	count := len(data) / 2
	if count == 0 {
		return nil
	}
	out := make([]int16, count)
	for i := 0; i < count; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
