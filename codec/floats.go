package codec

import "math"

// EncodeFloat32 encodes f as a little-endian IEEE-754 single.
func EncodeFloat32(f float32) []byte {
	buf := make([]byte, 4)
	PutLE(buf, uint64(math.Float32bits(f)))
	return buf
}

// DecodeFloat32 decodes a little-endian IEEE-754 single.
func DecodeFloat32(b []byte) float32 {
	return math.Float32frombits(uint32(DecodeULE(b[:4])))
}

// EncodeFloat64 encodes f as a little-endian IEEE-754 double.
func EncodeFloat64(f float64) []byte {
	buf := make([]byte, 8)
	PutLE(buf, math.Float64bits(f))
	return buf
}

// DecodeFloat64 decodes a little-endian IEEE-754 double.
func DecodeFloat64(b []byte) float64 {
	return math.Float64frombits(DecodeULE(b[:8]))
}
